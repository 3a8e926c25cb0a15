package cmd

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newConfCmd groups remote configuration management under 'conf'.
func newConfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conf",
		Short: "Manage named configurations on the remote service",
	}
	cmd.AddCommand(newConfListCmd(), newConfInfoCmd(), newConfCreateCmd(), newConfDeleteCmd())
	return cmd
}

func newConfListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configuration ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := a.Client().ListConfigs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list configs: %w", err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newConfInfoCmd() *cobra.Command {
	var param string
	cmd := &cobra.Command{
		Use:   "info <conf-id>",
		Short: "Show a configuration's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if param != "" {
				value, err := a.Client().GetConfigParameter(cmd.Context(), args[0], param)
				if err != nil {
					return fmt.Errorf("config %s parameter %s: %w", args[0], param, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}
			params, err := a.Client().GetConfig(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("config %s: %w", args[0], err)
			}
			printConfig(cmd.OutOrStdout(), params)
			return nil
		},
	}
	cmd.Flags().StringVar(&param, "param", "", "print a single parameter value")
	return cmd
}

func newConfCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create <conf-id>",
		Short: "Register a configuration from a Hadoop-style property file",
		Long: `Parses an XML property file of the form

  <configuration>
    <property>
      <name>http.agent.name</name>
      <value>crawler</value>
    </property>
  </configuration>

and registers its parameters on the remote service under the given id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open property file: %w", err)
			}
			defer f.Close()
			params, err := parsePropertyFile(f)
			if err != nil {
				return err
			}
			stored, err := a.Client().CreateConfig(cmd.Context(), args[0], params)
			if err != nil {
				return fmt.Errorf("create config %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s created (%d parameters)\n", stored, len(params))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "XML property file to load parameters from")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newConfDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conf-id>",
		Short: "Delete a configuration from the remote service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Client().DeleteConfig(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete config %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s deleted\n", args[0])
			return nil
		},
	}
}

// propertyFile is the Hadoop configuration XML layout.
type propertyFile struct {
	XMLName    xml.Name   `xml:"configuration"`
	Properties []property `xml:"property"`
}

type property struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

// parsePropertyFile reads a Hadoop-style XML property file into a flat
// parameter map. Names and values are whitespace-trimmed.
func parsePropertyFile(r io.Reader) (map[string]string, error) {
	var doc propertyFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse property file: %w", err)
	}
	params := make(map[string]string, len(doc.Properties))
	for i, prop := range doc.Properties {
		name := strings.TrimSpace(prop.Name)
		if name == "" {
			return nil, fmt.Errorf("property %d has no name", i)
		}
		params[name] = strings.TrimSpace(prop.Value)
	}
	return params, nil
}

// printConfig writes parameters sorted by name.
func printConfig(w io.Writer, params map[string]string) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, params[name])
	}
	tw.Flush()
}
