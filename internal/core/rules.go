package core

// builtinRules returns the default classification tables. Order within a
// tier is the order reasons are shown in.
func builtinRules() []Rule {
	var rules []Rule
	rules = append(rules, sqlRules()...)
	rules = append(rules, vcsHostRules()...)
	rules = append(rules, gitRules()...)
	rules = append(rules, crmRules()...)
	rules = append(rules, dataPlatformRules()...)
	for i := range rules {
		rules[i].Source = "builtin"
	}
	return rules
}

func sqlRules() []Rule {
	t := ToolSQL
	return []Rule{
		// Forbidden
		{Tool: t, Tier: TierForbidden, Pattern: `\bDROP\s+(DATABASE|SCHEMA)\b`, Reason: "drops an entire database or schema"},
		{Tool: t, Tier: TierForbidden, Pattern: `\bDROP\s+OWNED\b`, Reason: "drops every object owned by a role"},

		// Destructive
		{Tool: t, Tier: TierDestructive, Pattern: `\bDROP\s+TABLE\b`, Reason: "drops a table"},
		{Tool: t, Tier: TierDestructive, Pattern: `\bTRUNCATE\b`, Reason: "truncates a table"},
		{Tool: t, Tier: TierDestructive, Check: sqlStatementPredicate(deleteWithoutWhere), CheckName: "delete_without_where", Reason: "DELETE without WHERE removes every row"},
		{Tool: t, Tier: TierDestructive, Check: sqlStatementPredicate(updateWithoutWhere), CheckName: "update_without_where", Reason: "UPDATE without WHERE rewrites every row"},
		{Tool: t, Tier: TierDestructive, Pattern: `\bALTER\s+TABLE\b.*\bDROP\s+(COLUMN|CONSTRAINT)\b`, Reason: "drops a column or constraint"},
		{Tool: t, Tier: TierDestructive, Pattern: `\bDROP\s+(VIEW|MATERIALIZED\s+VIEW|FUNCTION|PROCEDURE|TRIGGER|POLICY|INDEX|SEQUENCE|TYPE|ROLE|USER|EXTENSION)\b`, Reason: "drops a database object"},
		{Tool: t, Tier: TierDestructive, Pattern: `\bDISABLE\s+ROW\s+LEVEL\s+SECURITY\b`, Reason: "disables row level security"},

		// Write
		{Tool: t, Tier: TierWrite, Pattern: `\b(INSERT\s+INTO|MERGE\s+INTO|UPSERT)\b`, Reason: "inserts rows"},
		{Tool: t, Tier: TierWrite, Pattern: `\bUPDATE\s+[\w."]+\s+SET\b`, Reason: "updates rows"},
		{Tool: t, Tier: TierWrite, Pattern: `\bDELETE\s+FROM\b`, Reason: "deletes rows"},
		{Tool: t, Tier: TierWrite, Pattern: `\b(CREATE|ALTER|COMMENT\s+ON)\b`, Reason: "changes the schema"},
		{Tool: t, Tier: TierWrite, Pattern: `\b(GRANT|REVOKE)\b`, Reason: "changes privileges"},
		{Tool: t, Tier: TierWrite, Pattern: `\bCOPY\b.*\bFROM\b`, Reason: "bulk loads data"},
		{Tool: t, Tier: TierWrite, Pattern: `\bFOR\s+(UPDATE|SHARE)\b`, Reason: "takes row locks"},
	}
}

func vcsHostRules() []Rule {
	t := ToolVCSHost
	return []Rule{
		// Forbidden
		{Tool: t, Tier: TierForbidden, Action: "repo.delete", Reason: "permanently deletes a repository"},

		// Destructive
		{Tool: t, Tier: TierDestructive, Action: "repo.edit", Pattern: `--visibility[=\s]+public\b`, Reason: "makes a repository public"},
		{Tool: t, Tier: TierDestructive, Action: "repo.archive", Reason: "archives a repository"},
		{Tool: t, Tier: TierDestructive, Action: "pr.merge", AnyFlags: []string{"--admin"}, Reason: "merges bypassing branch protection"},
		{Tool: t, Tier: TierDestructive, Action: "api", Pattern: `(-X|--method)[=\s]*DELETE\b`, Reason: "sends a DELETE request to the API"},
		{Tool: t, Tier: TierDestructive, Action: "api", Pattern: `/transfer\b`, Reason: "transfers repository ownership"},
		{Tool: t, Tier: TierDestructive, ActionSuffix: ".delete", Reason: "deletes a remote resource"},
		{Tool: t, Tier: TierDestructive, Action: "secret.remove", Reason: "removes a secret"},

		// Write
		{Tool: t, Tier: TierWrite, Action: "api", Pattern: `(-X|--method)[=\s]*(POST|PUT|PATCH)\b`, Reason: "sends a mutating API request"},
		{Tool: t, Tier: TierWrite, Action: "api", AnyFlags: []string{"-f", "-F", "--field", "--raw-field", "--input"}, Reason: "sends API fields (defaults to POST)"},
		{Tool: t, Tier: TierWrite, ActionSuffix: ".create", Reason: "creates a remote resource"},
		{Tool: t, Tier: TierWrite, ActionSuffix: ".edit", Reason: "edits a remote resource"},
		{Tool: t, Tier: TierWrite, ActionSuffix: ".close", Reason: "closes an issue or pull request"},
		{Tool: t, Tier: TierWrite, ActionSuffix: ".set", Reason: "sets a secret or variable"},
		{Tool: t, Tier: TierWrite, Action: "pr.merge", Reason: "merges a pull request"},
		{Tool: t, Tier: TierWrite, Action: "repo.rename", Reason: "renames a repository"},
		{Tool: t, Tier: TierWrite, Action: "repo.fork", Reason: "forks a repository"},
		{Tool: t, Tier: TierWrite, Action: "release.upload", Reason: "uploads release assets"},
		{Tool: t, Tier: TierWrite, Action: "workflow.run", Reason: "triggers a workflow"},
		{Tool: t, Tier: TierWrite, Action: "run.rerun", Reason: "re-runs a workflow"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "workflow.", ActionSuffix: "able", Reason: "enables or disables a workflow"},

		// Safe
		{Tool: t, Tier: TierSafe, ActionSuffix: ".view", Reason: "read-only view"},
		{Tool: t, Tier: TierSafe, ActionSuffix: ".list", Reason: "read-only listing"},
	}
}

// gitForceFlags are every spelling of a push that may overwrite remote
// history. The lease variants only check what the local ref last saw.
var gitForceFlags = []string{"--force", "-f", "--force-with-lease", "--force-if-includes"}

func gitRules() []Rule {
	t := ToolGit
	return []Rule{
		// Forbidden
		{Tool: t, Tier: TierForbidden, Action: "push", AnyFlags: gitForceFlags, Pattern: `\s(\+?(main|master|trunk|release)|\S+:(refs/heads/)?(main|master|trunk))(\s|$)`, Reason: "force-pushes a protected default branch"},
		{Tool: t, Tier: TierForbidden, Action: "push", Pattern: `\s\+(\S+:)?(refs/heads/)?(main|master|trunk|release)(\s|$)`, Reason: "force-pushes a protected default branch"},
		{Tool: t, Tier: TierForbidden, Action: "push", AnyFlags: []string{"--mirror"}, Reason: "mirror push overwrites every remote ref"},
		{Tool: t, Tier: TierForbidden, Action: "filter-branch", Reason: "rewrites the whole history"},
		{Tool: t, Tier: TierForbidden, Action: "filter-repo", Reason: "rewrites the whole history"},

		// Destructive
		{Tool: t, Tier: TierDestructive, Action: "push", AnyFlags: gitForceFlags, Reason: "force push overwrites remote history"},
		{Tool: t, Tier: TierDestructive, Action: "push", Pattern: `\s\+\S+`, Reason: "force-pushes a refspec"},
		{Tool: t, Tier: TierDestructive, Action: "push", AnyFlags: []string{"--delete", "-d"}, Reason: "deletes a remote branch or tag"},
		{Tool: t, Tier: TierDestructive, Action: "push", Pattern: `\s:[^\s]+`, Reason: "deletes a remote ref"},
		{Tool: t, Tier: TierDestructive, Action: "reset", AnyFlags: []string{"--hard"}, Reason: "discards working tree changes"},
		{Tool: t, Tier: TierDestructive, Action: "clean", AnyFlags: []string{"-f", "--force"}, Reason: "deletes untracked files"},
		{Tool: t, Tier: TierDestructive, Action: "branch", AnyFlags: []string{"-D"}, Reason: "force-deletes a branch"},
		{Tool: t, Tier: TierDestructive, Action: "stash", Pattern: `\bstash\s+(drop|clear)\b`, Reason: "drops stashed changes"},
		{Tool: t, Tier: TierDestructive, Action: "checkout", Pattern: `\s--\s+\S|\scheckout\s+\.(\s|$)`, Reason: "discards local changes"},
		{Tool: t, Tier: TierDestructive, Action: "restore", Reason: "discards local changes"},
		{Tool: t, Tier: TierDestructive, Action: "reflog", Pattern: `\breflog\s+(expire|delete)\b`, Reason: "prunes the reflog"},
		{Tool: t, Tier: TierDestructive, Action: "gc", Pattern: `--prune=now`, Reason: "prunes unreachable objects"},
		{Tool: t, Tier: TierDestructive, Action: "update-ref", AnyFlags: []string{"-d"}, Reason: "deletes a ref"},

		// Write
		{Tool: t, Tier: TierWrite, Action: "push", Reason: "publishes commits to a remote"},
		{Tool: t, Tier: TierWrite, Action: "commit", Reason: "records a commit"},
		{Tool: t, Tier: TierWrite, Action: "merge", Reason: "merges history"},
		{Tool: t, Tier: TierWrite, Action: "rebase", Reason: "rewrites local history"},
		{Tool: t, Tier: TierWrite, Action: "cherry-pick", Reason: "applies commits"},
		{Tool: t, Tier: TierWrite, Action: "revert", Reason: "records a revert commit"},
		{Tool: t, Tier: TierWrite, Action: "pull", Reason: "merges remote changes"},
		{Tool: t, Tier: TierWrite, Action: "tag", Reason: "creates or deletes tags"},
		{Tool: t, Tier: TierWrite, Action: "branch", AnyFlags: []string{"-d", "-m", "-M", "--delete", "--move"}, Reason: "deletes or renames a branch"},
		{Tool: t, Tier: TierWrite, Action: "stash", Reason: "changes the stash"},
		{Tool: t, Tier: TierWrite, Action: "rm", Reason: "removes tracked files"},
		{Tool: t, Tier: TierWrite, Action: "mv", Reason: "moves tracked files"},
		{Tool: t, Tier: TierWrite, Action: "remote", Pattern: `\bremote\s+(add|remove|rm|rename|set-url)\b`, Reason: "changes remotes"},
		{Tool: t, Tier: TierWrite, Action: "config", Pattern: `\bconfig\b.*\s(--unset|--add|--replace-all|[\w.-]+\s+\S+)`, Reason: "changes git configuration"},
		{Tool: t, Tier: TierWrite, Action: "checkout", Reason: "switches the working tree"},
		{Tool: t, Tier: TierWrite, Action: "switch", Reason: "switches the working tree"},
		{Tool: t, Tier: TierWrite, Action: "am", Reason: "applies patches"},
		{Tool: t, Tier: TierWrite, Action: "apply", Reason: "applies patches"},
	}
}

func crmRules() []Rule {
	t := ToolCRM
	return []Rule{
		// Forbidden
		{Tool: t, Tier: TierForbidden, ActionPrefix: "data.delete.", AnyFlags: []string{"--hard-delete"}, Reason: "hard delete bypasses the recycle bin"},
		{Tool: t, Tier: TierForbidden, Action: "project.deploy.start", Pattern: `--purge-on-delete`, Reason: "purges deleted components immediately"},

		// Destructive
		{Tool: t, Tier: TierDestructive, Action: "data.delete.bulk", Reason: "bulk delete of records"},
		{Tool: t, Tier: TierDestructive, Action: "data.delete.record", Reason: "deletes a record"},
		{Tool: t, Tier: TierDestructive, Action: "org.delete.sandbox", Reason: "deletes a sandbox org"},
		{Tool: t, Tier: TierDestructive, Action: "org.delete.scratch", Reason: "deletes a scratch org"},
		{Tool: t, Tier: TierDestructive, ActionPrefix: "project.deploy.", Pattern: `--(pre|post)-destructive-changes|destructiveChanges`, Reason: "deploys destructive changes"},
		{Tool: t, Tier: TierDestructive, Action: "apex.run", Pattern: `\b(delete|Database\.delete|emptyRecycleBin)\b`, Reason: "anonymous Apex deletes records"},
		{Tool: t, Tier: TierDestructive, Action: "package.uninstall", Reason: "uninstalls a package"},

		// Write
		{Tool: t, Tier: TierWrite, ActionPrefix: "data.create.", Reason: "creates records"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "data.update.", Reason: "updates records"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "data.upsert.", Reason: "upserts records"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "data.import.", Reason: "imports records"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "project.deploy.", Reason: "deploys metadata"},
		{Tool: t, Tier: TierWrite, Action: "apex.run", Reason: "runs anonymous Apex"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "org.assign.", Reason: "assigns permissions"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "org.create.", Reason: "creates an org"},
		{Tool: t, Tier: TierWrite, Action: "package.install", Reason: "installs a package"},
		{Tool: t, Tier: TierWrite, ActionPrefix: "user.", Pattern: `\b(create|password|assign)\b`, Reason: "changes users"},

		// Safe
		{Tool: t, Tier: TierSafe, Action: "data.query", Reason: "read-only query"},
		{Tool: t, Tier: TierSafe, ActionPrefix: "project.retrieve.", Reason: "retrieves metadata locally"},
		{Tool: t, Tier: TierSafe, Action: "org.display", Reason: "read-only org details"},
		{Tool: t, Tier: TierSafe, Action: "org.list", Reason: "read-only org listing"},
	}
}

func dataPlatformRules() []Rule {
	t := ToolDataPlatform
	return []Rule{
		// Forbidden
		{Tool: t, Tier: TierForbidden, Action: "projects.delete", Reason: "permanently deletes a project"},
		{Tool: t, Tier: TierForbidden, Action: "db.reset", AnyFlags: []string{"--linked", "--db-url"}, Reason: "resets a remote database"},

		// Destructive
		{Tool: t, Tier: TierDestructive, Action: "db.reset", Reason: "resets the database"},
		{Tool: t, Tier: TierDestructive, Action: "migration.repair", Reason: "rewrites migration history"},
		{Tool: t, Tier: TierDestructive, Action: "branches.delete", Reason: "deletes a preview branch"},
		{Tool: t, Tier: TierDestructive, Action: "functions.delete", Reason: "deletes an Edge Function"},
		{Tool: t, Tier: TierDestructive, Action: "secrets.unset", Reason: "removes project secrets"},
		{Tool: t, Tier: TierDestructive, Action: "storage.rm", Reason: "deletes storage objects"},
		{Tool: t, Tier: TierDestructive, ActionSuffix: ".delete", Reason: "deletes a remote resource"},
		{Tool: t, Tier: TierDestructive, ActionSuffix: ".remove", Reason: "removes a remote resource"},
		{Tool: t, Tier: TierDestructive, Action: "db.push", Pattern: `\bdrop\s+(table|schema|column)\b`, Reason: "pushes migrations that drop objects"},

		// Write
		{Tool: t, Tier: TierWrite, Action: "db.push", Reason: "applies migrations"},
		{Tool: t, Tier: TierWrite, Action: "migration.squash", Reason: "squashes migrations"},
		{Tool: t, Tier: TierWrite, Action: "functions.deploy", Reason: "deploys an Edge Function"},
		{Tool: t, Tier: TierWrite, Action: "secrets.set", Reason: "sets project secrets"},
		{Tool: t, Tier: TierWrite, Action: "storage.cp", Reason: "writes storage objects"},
		{Tool: t, Tier: TierWrite, Action: "storage.mv", Reason: "moves storage objects"},
		{Tool: t, Tier: TierWrite, Action: "link", Reason: "links a remote project"},
		{Tool: t, Tier: TierWrite, ActionSuffix: ".update", Reason: "updates project configuration"},
		{Tool: t, Tier: TierWrite, ActionSuffix: ".create", Reason: "creates a remote resource"},

		// Safe
		{Tool: t, Tier: TierSafe, Action: "db.dump", Reason: "read-only dump"},
		{Tool: t, Tier: TierSafe, Action: "db.diff", Reason: "read-only diff"},
		{Tool: t, Tier: TierSafe, ActionPrefix: "gen.", Reason: "generates local files"},
		{Tool: t, Tier: TierSafe, Action: "status", Reason: "read-only status"},
	}
}
