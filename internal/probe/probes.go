package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
)

// nonProdName matches names that conventionally mark a non-production
// project, repository or database.
var nonProdName = regexp.MustCompile(`(?i)(^|[-_./])(staging|stage|stg|sandbox|uat|qa|preview|dev|test|playground|scratch)([-_./]|$)`)

// ForTool returns the probe for tool, or nil when none exists (the
// resolver then reports Unknown).
func ForTool(tool core.Tool, exec Executor) core.EnvironmentProbe {
	if exec == nil {
		exec = ExecExecutor{}
	}
	switch tool {
	case core.ToolVCSHost:
		return &GitHubProbe{Exec: exec}
	case core.ToolGit:
		return &GitProbe{Exec: exec}
	case core.ToolCRM:
		return &SalesforceProbe{Exec: exec}
	case core.ToolDataPlatform:
		return &SupabaseProbe{Exec: exec}
	case core.ToolSQL:
		return &ConnStringProbe{}
	}
	return nil
}

// ForTarget is ForTool, except that a Postgres connection string given to
// the data platform (supabase --db-url) is read as one.
func ForTarget(tool core.Tool, target string, exec Executor) core.EnvironmentProbe {
	if tool == core.ToolDataPlatform {
		lower := strings.ToLower(target)
		if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
			return &ConnStringProbe{}
		}
	}
	return ForTool(tool, exec)
}

// GitHubProbe identifies a repository through `gh repo view`.
type GitHubProbe struct {
	Exec Executor
}

type ghRepo struct {
	NameWithOwner string `json:"nameWithOwner"`
	URL           string `json:"url"`
	Visibility    string `json:"visibility"`
	IsFork        bool   `json:"isFork"`
}

// Probe resolves targetRef ("owner/repo", a repo URL, or empty for the
// current checkout).
func (p *GitHubProbe) Probe(ctx context.Context, targetRef string) (core.ProbeResult, error) {
	args := []string{"repo", "view"}
	if ref := strings.TrimSpace(targetRef); ref != "" {
		args = append(args, ref)
	}
	args = append(args, "--json", "nameWithOwner,url,visibility,isFork")

	out, err := p.Exec.Run(ctx, "gh", args...)
	if err != nil {
		return core.ProbeResult{}, err
	}
	var repo ghRepo
	if err := json.Unmarshal(out, &repo); err != nil {
		return core.ProbeResult{}, fmt.Errorf("decoding gh repo view: %w", err)
	}
	if repo.NameWithOwner == "" {
		return core.ProbeResult{}, fmt.Errorf("gh repo view returned no repository")
	}

	res := core.ProbeResult{ResolvedIdentity: repo.NameWithOwner}
	if u, err := url.Parse(repo.URL); err == nil {
		res.Host = u.Hostname()
	}
	_, name, _ := strings.Cut(repo.NameWithOwner, "/")
	res.IsStaging = nonProdName.MatchString(name)
	return res, nil
}

// GitProbe identifies the remote a git operation talks to.
type GitProbe struct {
	Exec Executor
	// Dir is passed to git via -C when set.
	Dir string
}

// Probe resolves targetRef, which is a remote name (default "origin") or a
// remote URL. A repository with no remotes is isolated.
func (p *GitProbe) Probe(ctx context.Context, targetRef string) (core.ProbeResult, error) {
	ref := strings.TrimSpace(targetRef)
	if ref == "" || ref == "." {
		ref = "origin"
	}

	remoteURL := ref
	if !looksLikeURL(ref) {
		out, err := p.git(ctx, "remote")
		if err != nil {
			return core.ProbeResult{}, err
		}
		remotes := strings.Fields(string(out))
		if len(remotes) == 0 {
			return core.ProbeResult{IsIsolated: true, ResolvedIdentity: "local repository"}, nil
		}
		out, err = p.git(ctx, "remote", "get-url", ref)
		if err != nil {
			return core.ProbeResult{}, err
		}
		remoteURL = strings.TrimSpace(string(out))
	}

	host, path := splitRemote(remoteURL)
	if host == "" {
		// file paths and file:// remotes never leave the machine
		return core.ProbeResult{IsIsolated: true, ResolvedIdentity: remoteURL}, nil
	}
	return core.ProbeResult{
		ResolvedIdentity: core.RedactTarget(remoteURL),
		Host:             host,
		IsStaging:        nonProdName.MatchString(strings.TrimSuffix(path, ".git")),
	}, nil
}

func (p *GitProbe) git(ctx context.Context, args ...string) ([]byte, error) {
	if p.Dir != "" {
		args = append([]string{"-C", p.Dir}, args...)
	}
	return p.Exec.Run(ctx, "git", args...)
}

var scpRemote = regexp.MustCompile(`^(?:[\w.-]+@)?([\w.-]+):(.+)$`)

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "git@") || strings.HasPrefix(s, "/")
}

// splitRemote returns the host and repository path of a git remote. It
// returns an empty host for local remotes.
func splitRemote(remote string) (host, path string) {
	if strings.Contains(remote, "://") {
		u, err := url.Parse(remote)
		if err != nil || u.Scheme == "file" {
			return "", remote
		}
		return u.Hostname(), strings.Trim(u.Path, "/")
	}
	if strings.HasPrefix(remote, "/") || strings.HasPrefix(remote, ".") {
		return "", remote
	}
	if m := scpRemote.FindStringSubmatch(remote); m != nil {
		return m[1], m[2]
	}
	return "", remote
}

// SalesforceProbe identifies an org through `sf org display`.
type SalesforceProbe struct {
	Exec Executor
}

type sfOrgDisplay struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Result  struct {
		Username       string `json:"username"`
		Alias          string `json:"alias"`
		InstanceURL    string `json:"instanceUrl"`
		ID             string `json:"id"`
		IsSandbox      bool   `json:"isSandbox"`
		IsScratch      bool   `json:"isScratch"`
		ExpirationDate string `json:"expirationDate"`
	} `json:"result"`
}

// Probe resolves targetRef, an org alias or username; empty means the
// default org.
func (p *SalesforceProbe) Probe(ctx context.Context, targetRef string) (core.ProbeResult, error) {
	args := []string{"org", "display", "--json"}
	if ref := strings.TrimSpace(targetRef); ref != "" {
		args = append(args, "--target-org", ref)
	}
	out, err := p.Exec.Run(ctx, "sf", args...)
	// sf prints a JSON error envelope on stdout even when it exits non-zero.
	var disp sfOrgDisplay
	if jsonErr := json.Unmarshal(out, &disp); jsonErr != nil {
		if err != nil {
			return core.ProbeResult{}, err
		}
		return core.ProbeResult{}, fmt.Errorf("decoding sf org display: %w", jsonErr)
	}
	if disp.Status != 0 {
		return core.ProbeResult{}, fmt.Errorf("sf org display: %s", disp.Message)
	}
	if err != nil {
		return core.ProbeResult{}, err
	}

	r := disp.Result
	if r.Username == "" {
		return core.ProbeResult{}, fmt.Errorf("sf org display returned no username")
	}
	res := core.ProbeResult{ResolvedIdentity: r.Username}
	if u, err := url.Parse(r.InstanceURL); err == nil {
		res.Host = u.Hostname()
	}
	switch {
	case r.IsScratch || r.ExpirationDate != "":
		res.IsIsolated = true
	case r.IsSandbox:
		res.IsStaging = true
	}
	return res, nil
}

// SupabaseProbe identifies a Supabase project.
type SupabaseProbe struct {
	Exec Executor
}

type supabaseProject struct {
	Ref  string `json:"ref"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Probe resolves targetRef: empty or "local" means the local stack,
// anything else is a project ref.
func (p *SupabaseProbe) Probe(ctx context.Context, targetRef string) (core.ProbeResult, error) {
	ref := strings.TrimSpace(targetRef)
	if ref == "" || strings.EqualFold(ref, "local") {
		return p.local(ctx)
	}

	out, err := p.Exec.Run(ctx, "supabase", "projects", "list", "-o", "json")
	if err != nil {
		return core.ProbeResult{}, err
	}
	var projects []supabaseProject
	if err := json.Unmarshal(out, &projects); err != nil {
		return core.ProbeResult{}, fmt.Errorf("decoding supabase projects list: %w", err)
	}
	for _, pr := range projects {
		id := pr.Ref
		if id == "" {
			id = pr.ID
		}
		if id != ref {
			continue
		}
		return core.ProbeResult{
			ResolvedIdentity: pr.Name + " (" + id + ")",
			Host:             id + ".supabase.co",
			IsStaging:        nonProdName.MatchString(pr.Name),
		}, nil
	}
	return core.ProbeResult{}, fmt.Errorf("supabase project %q not found", ref)
}

func (p *SupabaseProbe) local(ctx context.Context) (core.ProbeResult, error) {
	out, err := p.Exec.Run(ctx, "supabase", "status", "-o", "json")
	if err != nil {
		return core.ProbeResult{}, err
	}
	var status map[string]string
	if err := json.Unmarshal(out, &status); err != nil {
		return core.ProbeResult{}, fmt.Errorf("decoding supabase status: %w", err)
	}
	api := status["API_URL"]
	if api == "" {
		return core.ProbeResult{}, fmt.Errorf("supabase status reported no API_URL")
	}
	u, err := url.Parse(api)
	if err != nil {
		return core.ProbeResult{}, fmt.Errorf("parsing API_URL: %w", err)
	}
	return core.ProbeResult{
		IsIsolated:       isLoopback(u.Hostname()),
		ResolvedIdentity: "local stack",
		Host:             u.Hostname(),
	}, nil
}

// ConnStringProbe inspects a SQL connection string without connecting.
type ConnStringProbe struct {
	// Getenv defaults to os.Getenv and supplies DATABASE_URL / PGHOST when
	// the target is empty.
	Getenv func(string) string
}

// ErrNoTarget is returned when no connection target can be determined.
var ErrNoTarget = errors.New("no connection target")

// Probe accepts URL DSNs (postgres://user@host/db), key/value DSNs
// (host=... dbname=...) and SQLite file paths.
func (p *ConnStringProbe) Probe(ctx context.Context, targetRef string) (core.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ProbeResult{}, err
	}
	ref := strings.TrimSpace(targetRef)
	if ref == "" {
		ref = p.fromEnv()
	}
	if ref == "" {
		return core.ProbeResult{}, ErrNoTarget
	}

	host, user, dbname, err := parseDSN(ref)
	if err != nil {
		return core.ProbeResult{}, err
	}
	if host == "" {
		// unix sockets and embedded files
		return core.ProbeResult{IsIsolated: true, ResolvedIdentity: identity(user, "local", dbname)}, nil
	}
	return core.ProbeResult{
		ResolvedIdentity: identity(user, host, dbname),
		Host:             host,
		IsStaging:        nonProdName.MatchString(dbname),
	}, nil
}

func (p *ConnStringProbe) fromEnv() string {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("DATABASE_URL"); v != "" {
		return v
	}
	if h := getenv("PGHOST"); h != "" {
		kv := "host=" + h
		if db := getenv("PGDATABASE"); db != "" {
			kv += " dbname=" + db
		}
		if u := getenv("PGUSER"); u != "" {
			kv += " user=" + u
		}
		return kv
	}
	return ""
}

var kvPair = regexp.MustCompile(`(\w+)\s*=\s*('[^']*'|"[^"]*"|\S+)`)

func parseDSN(ref string) (host, user, dbname string, err error) {
	switch {
	case strings.Contains(ref, "://"):
		u, perr := url.Parse(ref)
		if perr != nil {
			return "", "", "", fmt.Errorf("parsing connection url: %w", core.ErrMalformedRequest)
		}
		if strings.HasPrefix(u.Scheme, "sqlite") || u.Scheme == "file" {
			return "", "", strings.TrimPrefix(u.Opaque+u.Path, "/"), nil
		}
		if u.User != nil {
			user = u.User.Username()
		}
		host = u.Hostname()
		if h := u.Query().Get("host"); host == "" && h != "" {
			host = h
		}
		dbname = strings.Trim(u.Path, "/")
	case strings.Contains(ref, "="):
		for _, m := range kvPair.FindAllStringSubmatch(ref, -1) {
			v := strings.Trim(m[2], `'"`)
			switch strings.ToLower(m[1]) {
			case "host", "hostaddr", "server":
				host = v
			case "user", "username":
				user = v
			case "dbname", "database":
				dbname = v
			}
		}
	case strings.HasSuffix(ref, ".db") || strings.HasSuffix(ref, ".sqlite") || strings.HasSuffix(ref, ".sqlite3"):
		return "", "", ref, nil
	default:
		// bare host or host:port
		h, _, splitErr := net.SplitHostPort(ref)
		if splitErr != nil {
			h = ref
		}
		host = h
	}
	if strings.HasPrefix(host, "/") {
		host = ""
	}
	return host, user, dbname, nil
}

func identity(user, host, dbname string) string {
	id := host
	if user != "" {
		id = user + "@" + id
	}
	if dbname != "" {
		id += "/" + dbname
	}
	return id
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
