package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/control"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage mock rules on a running server",
}

var rulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List mock rules",
	Args:    cobra.NoArgs,
	RunE:    runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a mock rule",
	Example: `  mocklock rules add --url https://api.example.com/users --body '[]' \
    --header 'Content-Type: application/json'
  mocklock rules add --id create-user --method POST --url https://api.example.com/users \
    --status 201 --body-file ./created.json`,
	Args: cobra.NoArgs,
	RunE: runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"remove"},
	Short:   "Remove mock rules",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRulesRemove,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a mock rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd, args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a mock rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd, args[0], false)
	},
}

var rulesImportCurlCmd = &cobra.Command{
	Use:   "import-curl <curl command>",
	Short: "Create a mock rule from a cURL command line",
	Long: `Create a mock rule from a cURL command line. The rule answers the request
the command would make with an empty 200 OK until it is edited.`,
	Example: `  mocklock rules import-curl "curl -X POST https://api.example.com/users -d '{}'"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRulesImportCurl,
}

func init() {
	addRuleFlags(rulesAddCmd)

	rulesImportCurlCmd.Flags().String("name", "", "Rule name (defaults to 'METHOD url')")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd, rulesEnableCmd, rulesDisableCmd, rulesImportCurlCmd)
	rootCmd.AddCommand(rulesCmd)
}

func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "Rule ID (generated when empty)")
	cmd.Flags().String("name", "", "Human-readable rule name")
	cmd.Flags().String("url", "", "Absolute URL to match")
	cmd.Flags().StringP("method", "X", "GET", "HTTP method to match")
	cmd.Flags().Int("status", 200, "Mock response status")
	cmd.Flags().String("status-text", "", "Mock response status text")
	cmd.Flags().StringArrayP("header", "H", nil, "Mock response header 'Name: value' (repeatable)")
	cmd.Flags().String("body", "", "Mock response body")
	cmd.Flags().String("body-file", "", "Read the mock response body from a file")
	cmd.Flags().Bool("disabled", false, "Create the rule disabled")
}

func controlClient() *control.Client {
	return control.NewClient(viper.GetString("api"), nil)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := controlClient().List(cmd.Context())
	if err != nil {
		return err
	}
	return printRules(cmd.OutOrStdout(), rules, wantTable(cmd.OutOrStdout()))
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	rule, err := ruleFromFlags(cmd)
	if err != nil {
		return err
	}
	saved, err := controlClient().Put(cmd.Context(), rule)
	if err != nil {
		return err
	}
	return printRule(cmd.OutOrStdout(), saved, wantTable(cmd.OutOrStdout()))
}

func ruleFromFlags(cmd *cobra.Command) (api.Rule, error) {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	rawURL, _ := cmd.Flags().GetString("url")
	method, _ := cmd.Flags().GetString("method")
	status, _ := cmd.Flags().GetInt("status")
	statusText, _ := cmd.Flags().GetString("status-text")
	headerSpecs, _ := cmd.Flags().GetStringArray("header")
	body, _ := cmd.Flags().GetString("body")
	bodyFile, _ := cmd.Flags().GetString("body-file")
	disabled, _ := cmd.Flags().GetBool("disabled")

	if rawURL == "" {
		return api.Rule{}, ErrMissingURL
	}
	if bodyFile != "" {
		if cmd.Flags().Changed("body") {
			return api.Rule{}, ErrBodyFlags
		}
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return api.Rule{}, errx.Wrap(ErrReadBody, err)
		}
		body = string(data)
	}
	headers, err := parseHeaders(headerSpecs)
	if err != nil {
		return api.Rule{}, err
	}

	rule := api.Rule{
		ID:      id,
		Name:    name,
		Enabled: !disabled,
		Request: api.RuleRequest{URL: rawURL, Method: strings.ToUpper(method)},
		Response: api.MockResponse{
			Status:     status,
			StatusText: statusText,
			Headers:    headers,
			Body:       body,
		},
	}
	if rule.Name == "" {
		rule.Name = rule.Method() + " " + rawURL
	}
	return rule, nil
}

// parseHeaders turns "Name: value" specs into ordered headers.
func parseHeaders(specs []string) (api.Headers, error) {
	var headers api.Headers
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errx.With(ErrInvalidHeader, " %q: expected 'Name: value'", spec)
		}
		headers = headers.Set(name, strings.TrimSpace(value))
	}
	return headers, nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	c := controlClient()
	for _, id := range args {
		if err := c.Delete(cmd.Context(), id); err != nil {
			return err
		}
		cmd.Printf("Removed %s\n", id)
	}
	return nil
}

func setRuleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	rule, err := controlClient().SetRuleEnabled(cmd.Context(), id, enabled)
	if err != nil {
		return err
	}
	return printRule(cmd.OutOrStdout(), rule, wantTable(cmd.OutOrStdout()))
}

func runRulesImportCurl(cmd *cobra.Command, args []string) error {
	command := strings.TrimSpace(strings.Join(args, " "))
	if command == "" {
		return ErrNoInputRule
	}
	if !strings.HasPrefix(command, "curl") {
		command = "curl " + command
	}
	name, _ := cmd.Flags().GetString("name")
	rule, err := controlClient().ImportCurl(cmd.Context(), command, name)
	if err != nil {
		return err
	}
	return printRule(cmd.OutOrStdout(), rule, wantTable(cmd.OutOrStdout()))
}
