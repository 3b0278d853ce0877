// Command brokerctl is an offline operator CLI for the broker's SQLite
// store and allowlist file: catalog inspection and allowlist checks without
// going through the admin HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/contextbroker/contextbroker/internal/allowlist"
	"github.com/contextbroker/contextbroker/internal/store"
)

// CLI defines brokerctl's command-line interface.
type CLI struct {
	DB string `short:"d" help:"Path to the broker's SQLite database." default:"contextbroker.db"`

	Projects    ProjectsCmd    `cmd:"" help:"List projects."`
	Sessions    SessionsCmd    `cmd:"" help:"List sessions."`
	Agents      AgentsCmd      `cmd:"" help:"List agents."`
	Connections ConnectionsCmd `cmd:"" help:"List connections."`
	Contexts    ContextsCmd    `cmd:"" help:"List recent contexts."`
	Allowlist   AllowlistCmd   `cmd:"" help:"Check an agent id against an allowlist file."`
}

// ProjectsCmd lists every project row.
type ProjectsCmd struct{}

func (c *ProjectsCmd) Run(cli *CLI) error {
	db, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	projects, err := db.ListProjects()
	if err != nil {
		return err
	}
	return printJSON(projects)
}

// SessionsCmd lists every session row.
type SessionsCmd struct{}

func (c *SessionsCmd) Run(cli *CLI) error {
	db, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ListSessions()
	if err != nil {
		return err
	}
	return printJSON(sessions)
}

// AgentsCmd lists every agent row.
type AgentsCmd struct{}

func (c *AgentsCmd) Run(cli *CLI) error {
	db, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	agents, err := db.ListAgents()
	if err != nil {
		return err
	}
	return printJSON(agents)
}

// ConnectionsCmd lists every connection row.
type ConnectionsCmd struct{}

func (c *ConnectionsCmd) Run(cli *CLI) error {
	db, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	conns, err := db.ListConnections()
	if err != nil {
		return err
	}
	return printJSON(conns)
}

// ContextsCmd lists recent contexts, newest first.
type ContextsCmd struct {
	Limit int `help:"Maximum rows to return (0 = store default)." default:"50"`
}

func (c *ContextsCmd) Run(cli *CLI) error {
	db, err := openStore(cli.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	contexts, err := db.ListContexts(c.Limit)
	if err != nil {
		return err
	}
	return printJSON(contexts)
}

// AllowlistCmd loads an allowlist file without starting a broker instance
// and reports whether one agent id would be allowed: --agent if given,
// otherwise the placeholder id "example-agent". The loaded set itself is not
// printed.
type AllowlistCmd struct {
	Path  string `arg:"" help:"Path to the allowlist file."`
	Agent string `help:"If set, only report whether this agent id would be allowed."`
}

func (c *AllowlistCmd) Run(cli *CLI) error {
	mgr := allowlist.New(c.Path)

	if c.Agent != "" {
		return printJSON(map[string]interface{}{
			"agent_id": c.Agent,
			"allowed":  mgr.Allow(c.Agent),
		})
	}

	return printJSON(map[string]interface{}{
		"path":          c.Path,
		"example_allow": mgr.Allow("example-agent"),
	})
}

func openStore(path string) (*store.Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("brokerctl: open store %s: %w", path, err)
	}
	return db, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("brokerctl"),
		kong.Description("Offline catalog and allowlist inspection for the context broker."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
