package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"dmdesk/internal/config"

	"github.com/spf13/cobra"
)

// providerMeta describes a provider option for the setup wizard.
type providerMeta struct {
	Name         string
	EnvVar       string // empty when no key is needed
	APIBase      string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "openai", EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	{Name: "claude", EnvVar: "ANTHROPIC_API_KEY", DefaultModel: "claude-3-5-haiku-20241022"},
	{Name: "ollama", APIBase: "http://localhost:11434", DefaultModel: "llama3.1:8b"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: gateway → provider → webhook → notifications",
		Long:  "Prompts for the Unipile DSN and API key, the drafting provider, the webhook secret and optional Telegram alerts, then writes the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'dmdesk doctor', then 'dmdesk serve'.")
			return nil
		},
	}
}

// prompter reads answers line by line, substituting a default for blank input.
type prompter struct {
	r   *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if s := strings.TrimSpace(line); s != "" {
		return s, nil
	}
	return def, nil
}

func (p *prompter) confirm(label string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := p.ask(label+" (y/n)", d)
	if err != nil {
		return false, err
	}
	ans = strings.ToLower(ans)
	return ans == "y" || ans == "yes", nil
}

// runSetup walks the prompts and updates cfg in place.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	p := &prompter{r: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "\n--- Step 1: Unipile gateway ---")
	dsn, err := p.ask("DSN (host:port)", cfg.Gateway.DSN)
	if err != nil {
		return err
	}
	cfg.Gateway.DSN = dsn
	key, err := p.ask("API key or env reference", cfg.Gateway.APIKey)
	if err != nil {
		return err
	}
	cfg.Gateway.APIKey = key

	fmt.Fprintln(out, "\n--- Step 2: Reply drafting provider ---")
	defNum := "1"
	for i, pm := range knownProviders {
		fmt.Fprintf(out, "  %d) %s\n", i+1, pm.Name)
		if pm.Name == cfg.General.DefaultProvider {
			defNum = fmt.Sprint(i + 1)
		}
	}
	choice, err := p.ask(fmt.Sprintf("Choose provider (1-%d)", len(knownProviders)), defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownProviders) {
		idx = 1
	}
	pm := knownProviders[idx-1]
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}
	pc := cfg.Providers[pm.Name]
	pc.Enabled = true
	if pc.APIBase == "" {
		pc.APIBase = pm.APIBase
	}
	if pc.DefaultModel == "" {
		pc.DefaultModel = pm.DefaultModel
	}
	if pm.EnvVar != "" {
		def := pc.APIKey
		if def == "" {
			def = "${" + pm.EnvVar + "}"
		}
		k, err := p.ask("API key or env reference", def)
		if err != nil {
			return err
		}
		pc.APIKey = k
	}
	cfg.Providers[pm.Name] = pc
	cfg.General.DefaultProvider = pm.Name

	fmt.Fprintln(out, "\n--- Step 3: Webhook ---")
	secret, err := p.ask("HMAC secret (blank disables signature checks)", cfg.Webhook.Secret)
	if err != nil {
		return err
	}
	cfg.Webhook.Secret = secret

	fmt.Fprintln(out, "\n--- Step 4: Telegram alerts ---")
	enable, err := p.confirm("Forward new DMs to Telegram?", cfg.Notify.Telegram.Enabled)
	if err != nil {
		return err
	}
	cfg.Notify.Telegram.Enabled = enable
	if enable {
		tok, err := p.ask("Bot token (from @BotFather)", cfg.Notify.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Notify.Telegram.Token = tok
		ids, err := p.ask("Chat ids, comma separated", strings.Join(cfg.Notify.Telegram.ChatIDs, ","))
		if err != nil {
			return err
		}
		var list config.FlexStringList
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				list = append(list, id)
			}
		}
		cfg.Notify.Telegram.ChatIDs = list
	}
	return nil
}
