package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qbloq/pathql/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) execCmd() *cobra.Command {
	var vars string

	cmd := &cobra.Command{
		Use:   "exec <query>",
		Short: "Run a named query against the database and print the rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.cmdExec(cmd.Context(), args[0], vars)
		},
	}
	cmd.Flags().StringVar(&vars, "vars", "", "Query variables as a JSON or YAML object")
	return cmd
}

func (c *cli) cmdExec(ctx context.Context, name, vars string) error {
	e, err := c.initEngine()
	if err != nil {
		return err
	}

	qv, err := parseVars(vars)
	if err != nil {
		return err
	}

	conn, done, err := c.initConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	rows, err := e.ExecuteByName(ctx, conn, name, qv)
	if err != nil {
		return err
	}
	return c.printJSON(rows)
}

func (c *cli) findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <from> <target> <value>",
		Short: "Print the id of the first entity whose target equals value",
		Long: `Print the id of the first entity reached by the from path whose value at
the target path equals value. The target path is relative to the entity.

  pathql find Org.repos name pathql`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.cmdFind(cmd.Context(), args[0], args[1], args[2])
		},
	}
}

func (c *cli) cmdFind(ctx context.Context, from, target, value string) error {
	e, err := c.initEngine()
	if err != nil {
		return err
	}

	var v any
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	conn, done, err := c.initConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	id, err := e.FindIDBy(ctx, conn, core.ParsePath(from), core.ParsePath(target), v)
	if err != nil {
		return err
	}
	return c.printJSON(id)
}

// parseVars accepts JSON or YAML, YAML keeps integers as ints
func parseVars(s string) (core.Vars, error) {
	vars := core.Vars{}
	if s == "" {
		return vars, nil
	}
	if err := yaml.Unmarshal([]byte(s), &vars); err != nil {
		return nil, fmt.Errorf("invalid vars: %w", err)
	}
	return vars, nil
}

func (c *cli) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}
