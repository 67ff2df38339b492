package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/mattn/go-shellwords"
)

// gateArgs are the reserved flags a wrapper consumes before the native
// arguments are classified.
type gateArgs struct {
	Confirm     bool
	BypassToken string
	Target      string
	Session     string
	// Global options, only recognised before the first native argument.
	Actor   string
	Output  string
	Config  string
	Project string
	JSON    bool
	Verbose bool

	Native []string
}

// splitGateArgs pulls the reserved gate flags out of a wrapper's argv.
// Gate flags are recognised anywhere; global options only lead, since
// names like --json and --output also belong to the wrapped CLIs.
// Everything after a bare "--" is native.
func splitGateArgs(args []string) (gateArgs, error) {
	var g gateArgs
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			g.Native = append(g.Native, args[i+1:]...)
			break
		}
		leading := len(g.Native) == 0
		name, value, hasValue := strings.Cut(a, "=")
		takeValue := func() error {
			if hasValue {
				return nil
			}
			if i+1 >= len(args) {
				return fmt.Errorf("%w: %s needs a value", core.ErrMalformedRequest, name)
			}
			i++
			value = args[i]
			return nil
		}

		var dst *string
		switch {
		case name == "--confirm":
			g.Confirm = true
			continue
		case name == "--bypass-token":
			dst = &g.BypassToken
		case name == "--target":
			dst = &g.Target
		case name == "--session":
			dst = &g.Session
		case leading && name == "--json":
			g.JSON = true
			continue
		case leading && name == "--verbose":
			g.Verbose = true
			continue
		case leading && name == "--actor":
			dst = &g.Actor
		case leading && name == "--output":
			dst = &g.Output
		case leading && name == "--config":
			dst = &g.Config
		case leading && name == "--project":
			dst = &g.Project
		default:
			g.Native = append(g.Native, a)
			continue
		}
		if err := takeValue(); err != nil {
			return gateArgs{}, err
		}
		*dst = value
	}
	return g, nil
}

// toolSyntax describes how a wrapped CLI spells its subcommands.
type toolSyntax struct {
	// actionWords is the maximum number of leading words joined into the
	// action ("repo delete" -> "repo.delete").
	actionWords int
	// singleWord lists subcommands that take no further action words.
	singleWord map[string]bool
	// valueFlags take a separate value argument.
	valueFlags map[string]bool
	// clusters allows bundled short flags ("-fdx" is "-f -d -x").
	clusters bool
}

var syntaxes = map[core.Tool]toolSyntax{
	core.ToolGit: {
		actionWords: 1,
		valueFlags:  set("-C", "-c", "--git-dir", "--work-tree", "--namespace", "-m", "-o", "--push-option"),
		clusters:    true,
	},
	core.ToolVCSHost: {
		actionWords: 2,
		singleWord:  set("api", "browse", "status", "search"),
		valueFlags:  set("-R", "--repo", "-X", "--method", "-f", "-F", "--field", "--raw-field", "--input", "-H", "--header", "--visibility", "-b", "--body", "-t", "--title"),
		clusters:    true,
	},
	core.ToolCRM: {
		actionWords: 3,
		valueFlags:  set("-o", "--target-org", "-s", "--sobject", "-q", "--query", "--query-file", "-f", "--file", "-i", "--record-id", "-w", "--wait", "-d", "--source-dir", "-m", "--metadata", "-p", "--package", "--api-version"),
	},
	core.ToolDataPlatform: {
		actionWords: 2,
		singleWord:  set("link", "start", "stop", "status", "init", "login"),
		valueFlags:  set("--project-ref", "--db-url", "-o", "--output", "--workdir", "-p", "--password", "--schema", "-s", "--lang", "--file", "-f"),
		clusters:    true,
	},
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// parsedArgs is argv split into subcommand words, positionals and flags.
type parsedArgs struct {
	words       []string
	positionals []string
	flags       []string
	values      map[string]string
}

func parseNative(tool core.Tool, argv []string) parsedArgs {
	syn := syntaxes[tool]
	p := parsedArgs{values: map[string]string{}}
	wordsDone := false
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if a == "--" {
			p.positionals = append(p.positionals, argv[i+1:]...)
			break
		}
		if syn.clusters && isShortCluster(a) {
			p.addCluster(syn, a, argv, &i)
			if len(p.words) > 0 {
				wordsDone = true
			}
			continue
		}
		if strings.HasPrefix(a, "-") && a != "-" {
			name, value, hasValue := strings.Cut(a, "=")
			p.flags = append(p.flags, name)
			if !hasValue && syn.valueFlags[name] && i+1 < len(argv) {
				i++
				value = argv[i]
			}
			p.values[name] = value
			// A flag after the first word ends the action.
			if len(p.words) > 0 {
				wordsDone = true
			}
			continue
		}
		if !wordsDone && len(p.words) < syn.actionWords {
			p.words = append(p.words, a)
			if len(p.words) == 1 && syn.singleWord[a] {
				wordsDone = true
			}
			continue
		}
		wordsDone = true
		p.positionals = append(p.positionals, a)
	}
	return p
}

// isShortCluster reports a single-dash token bundling more than one
// letter, such as "-fdx" or "-mWIP".
func isShortCluster(a string) bool {
	return len(a) > 2 && a[0] == '-' && a[1] != '-' && a[1] != '='
}

// addCluster records each letter of a bundled short flag. A letter that
// takes a value consumes the rest of the token, or the next argument when
// it ends the token.
func (p *parsedArgs) addCluster(syn toolSyntax, a string, argv []string, i *int) {
	letters := a[1:]
	for j := 0; j < len(letters); j++ {
		c := letters[j]
		if c == '=' {
			break
		}
		name := "-" + string(c)
		p.flags = append(p.flags, name)
		if !syn.valueFlags[name] {
			p.values[name] = ""
			continue
		}
		rest := strings.TrimPrefix(letters[j+1:], "=")
		if rest == "" && *i+1 < len(argv) {
			*i++
			rest = argv[*i]
		}
		p.values[name] = rest
		return
	}
}

func (p parsedArgs) value(names ...string) string {
	for _, n := range names {
		if v, ok := p.values[n]; ok && v != "" {
			return v
		}
	}
	return ""
}

func (p parsedArgs) has(names ...string) bool {
	for _, n := range names {
		if _, ok := p.values[n]; ok {
			return true
		}
	}
	return false
}

// buildRequest turns a wrapper's native argv into an operation request.
// An explicit target (from --target) wins over anything derived from argv.
func buildRequest(tool core.Tool, argv []string, target, projectDir string) (core.OperationRequest, error) {
	if len(argv) == 0 {
		return core.OperationRequest{}, fmt.Errorf("%w: no %s arguments given", core.ErrMalformedRequest, tool)
	}
	if tool == core.ToolSQL {
		payload := strings.TrimSpace(strings.Join(argv, " "))
		return core.NewOperationRequest(tool, sqlAction(payload), payload, target), nil
	}

	p := parseNative(tool, argv)
	if len(p.words) == 0 {
		return core.OperationRequest{}, fmt.Errorf("%w: no %s subcommand in %q", core.ErrMalformedRequest, tool, strings.Join(argv, " "))
	}
	action := strings.Join(p.words, ".")
	if target == "" {
		target = deriveTarget(tool, action, p, projectDir)
	}
	payload := strings.Join(argv, " ")
	if tool == core.ToolCRM && crmQueryActions[action] {
		q, err := crmQuery(p, projectDir)
		if err != nil {
			return core.OperationRequest{}, err
		}
		payload = q
	}
	return core.NewOperationRequest(tool, action, payload, target, p.flags...), nil
}

// buildRequestFromLine tokenises a single command line. A leading binary
// name matching the tool is dropped, so "git push -f" and "push -f" are
// the same request.
func buildRequestFromLine(tool core.Tool, line, target, projectDir string) (core.OperationRequest, error) {
	if tool == core.ToolSQL {
		return buildRequest(tool, []string{line}, target, projectDir)
	}
	words, err := shellwords.Parse(line)
	if err != nil {
		return core.OperationRequest{}, fmt.Errorf("%w: %v", core.ErrMalformedRequest, err)
	}
	if len(words) > 0 {
		if t, err := core.ParseTool(words[0]); err == nil && t == tool {
			words = words[1:]
		}
	}
	return buildRequest(tool, words, target, projectDir)
}

// crmQueryActions are the sf commands whose payload is a SOQL query, so
// the classifier can inspect it like any other SQL.
var crmQueryActions = map[string]bool{
	"data.query":       true,
	"data.export.bulk": true,
}

// crmQuery returns the SOQL a query command runs, from --query or the
// file named by --file / --query-file.
func crmQuery(p parsedArgs, projectDir string) (string, error) {
	if q := strings.TrimSpace(p.value("-q", "--query")); q != "" {
		return q, nil
	}
	name := p.value("-f", "--file", "--query-file")
	if name == "" {
		return "", fmt.Errorf("%w: query command needs --query or --file", core.ErrMalformedRequest)
	}
	if !filepath.IsAbs(name) && projectDir != "" {
		name = filepath.Join(projectDir, name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("%w: reading query file: %v", core.ErrMalformedRequest, err)
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", fmt.Errorf("%w: query file %s is empty", core.ErrMalformedRequest, name)
	}
	return q, nil
}

func deriveTarget(tool core.Tool, action string, p parsedArgs, projectDir string) string {
	switch tool {
	case core.ToolVCSHost:
		if v := p.value("-R", "--repo"); v != "" {
			return v
		}
		if strings.HasPrefix(action, "repo.") && len(p.positionals) > 0 {
			return p.positionals[0]
		}
	case core.ToolGit:
		switch action {
		case "push", "pull", "fetch":
			if len(p.positionals) > 0 {
				return p.positionals[0]
			}
		}
	case core.ToolCRM:
		return p.value("-o", "--target-org")
	case core.ToolDataPlatform:
		if v := p.value("--project-ref"); v != "" {
			return v
		}
		if v := p.value("--db-url"); v != "" {
			return v
		}
		if p.has("--local") {
			return "local"
		}
		if action == "projects.delete" && len(p.positionals) > 0 {
			return p.positionals[0]
		}
		if p.has("--linked") || needsLinkedProject(action) {
			return linkedProjectRef(projectDir)
		}
	}
	return ""
}

// needsLinkedProject reports supabase commands that act on the linked
// remote project when no target flag is given.
func needsLinkedProject(action string) bool {
	switch {
	case action == "db.push", action == "db.dump", action == "link":
		return true
	case strings.HasPrefix(action, "functions."), strings.HasPrefix(action, "secrets."),
		strings.HasPrefix(action, "storage."), strings.HasPrefix(action, "migration."):
		return true
	}
	return false
}

// linkedProjectRef reads the project ref `supabase link` stores. An
// unlinked project yields "linked", which the probe cannot identify, so
// the target resolves to unknown.
func linkedProjectRef(projectDir string) string {
	data, err := os.ReadFile(filepath.Join(projectDir, "supabase", ".temp", "project-ref"))
	if err != nil {
		return "linked"
	}
	if ref := strings.TrimSpace(string(data)); ref != "" {
		return ref
	}
	return "linked"
}

// sqlAction is "sql.query" when the payload only reads, "sql.exec"
// otherwise. The classifier looks at the statements either way.
func sqlAction(payload string) string {
	for _, st := range strings.Split(payload, ";") {
		fields := strings.Fields(st)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "TABLE":
			continue
		}
		return "sql.exec"
	}
	return "sql.query"
}
