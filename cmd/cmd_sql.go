package main

import (
	"fmt"
	"strings"

	"github.com/qbloq/pathql/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) sqlCmd() *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Print the SQL a named query compiles to",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.cmdSQL(args[0], pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "One clause per line")
	return cmd
}

func (c *cli) cmdSQL(name string, pretty bool) error {
	e, err := c.initEngine()
	if err != nil {
		return err
	}
	q, err := e.Query(name)
	if err != nil {
		return err
	}

	sql, params, err := e.SQL(q)
	if err != nil {
		return err
	}
	if pretty {
		sql = core.Prettify(sql)
	}

	fmt.Fprintln(c.out, sql)
	if len(params) != 0 {
		fmt.Fprintf(c.out, "-- params: %s\n", strings.Join(params, ", "))
	}
	return nil
}

// treeNode is the printed form of a query tree node
type treeNode struct {
	Name    string     `yaml:"name"`
	Alias   string     `yaml:"alias"`
	IDAlias string     `yaml:"id_alias,omitempty"`
	SQL     string     `yaml:"sql"`
	Related []treeNode `yaml:"related,omitempty"`
	Hooks   []hookNode `yaml:"hooks,omitempty"`
}

type hookNode struct {
	Alias string        `yaml:"alias"`
	Hook  string        `yaml:"hook"`
	Code  core.HookCode `yaml:"code"`
	Args  []treeNode    `yaml:"args,omitempty"`
}

func (c *cli) treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <query>",
		Short: "Print the query tree of a named query as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.cmdTree(args[0])
		},
	}
}

func (c *cli) cmdTree(name string) error {
	e, err := c.initEngine()
	if err != nil {
		return err
	}
	q, err := e.Query(name)
	if err != nil {
		return err
	}

	tree, err := e.BuildQueryTree(q)
	if err != nil {
		return err
	}
	n, err := newTreeNode(e, tree)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(c.out)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return err
	}
	return enc.Close()
}

func newTreeNode(e *core.Engine, t *core.QueryTree) (treeNode, error) {
	sql, _, err := e.SQL(t.Query)
	if err != nil {
		return treeNode{}, err
	}
	n := treeNode{Name: t.Name, Alias: t.Alias, IDAlias: t.QueryIDAlias, SQL: sql}

	for _, rt := range t.Related {
		rn, err := newTreeNode(e, rt)
		if err != nil {
			return treeNode{}, err
		}
		n.Related = append(n.Related, rn)
	}

	for _, h := range t.Hooks {
		hn := hookNode{Alias: h.Alias, Hook: h.Hook, Code: h.Code}
		for _, a := range h.Args {
			an, err := newTreeNode(e, a.Tree)
			if err != nil {
				return treeNode{}, err
			}
			hn.Args = append(hn.Args, an)
		}
		n.Hooks = append(n.Hooks, hn)
	}
	return n, nil
}
