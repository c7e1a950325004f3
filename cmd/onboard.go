package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/choptalini/chatbot/internal/config"
	"github.com/choptalini/chatbot/internal/store"
)

var successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively add a tenant/chatbot binding to the tenant map",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	var (
		senderMSISDN string
		tenantID     string
		chatbotID    string
		agentID      = "default"
		bspAPIKey    string
		bspBaseURL   string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Chatbot's sending number (MSISDN)").
				Description("The WhatsApp number this binding routes inbound traffic for.").
				Value(&senderMSISDN).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("sender number is required")
					}
					return nil
				}),
			huh.NewInput().Title("Tenant ID").Value(&tenantID),
			huh.NewInput().Title("Chatbot ID").Value(&chatbotID),
			huh.NewInput().Title("Agent ID").Value(&agentID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Per-tenant BSP API key (optional)").
				Description("Leave blank to use the process-level default.").
				Value(&bspAPIKey),
			huh.NewInput().
				Title("Per-tenant BSP base URL (optional)").
				Value(&bspBaseURL),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard: %w", err)
	}

	path := resolveConfigPath()
	bindings, err := loadRawBindings(path)
	if err != nil {
		return err
	}

	tenantIDNum, err := strconv.ParseInt(tenantID, 10, 64)
	if err != nil {
		return fmt.Errorf("onboard: invalid tenant id %q: %w", tenantID, err)
	}
	chatbotIDNum, err := strconv.ParseInt(chatbotID, 10, 64)
	if err != nil {
		return fmt.Errorf("onboard: invalid chatbot id %q: %w", chatbotID, err)
	}

	bindings = append(bindings, config.TenantBinding{
		SenderMSISDN: senderMSISDN,
		TenantID:     store.TenantID(tenantIDNum),
		ChatbotID:    store.ChatbotID(chatbotIDNum),
		AgentID:      store.AgentID(agentID),
		BSPAPIKey:    bspAPIKey,
		BSPBaseURL:   bspBaseURL,
	})

	// JSON5 is a superset of JSON: writing plain JSON back out keeps the
	// file readable by json5.Unmarshal while sidestepping a round-trip
	// through json5's own (decode-only) encoder.
	data, err := json.MarshalIndent(bindings, "", "  ")
	if err != nil {
		return fmt.Errorf("onboard: marshal tenant map: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("onboard: write %s: %w", path, err)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("Added binding for %s to %s", senderMSISDN, path)))
	return nil
}

func loadRawBindings(path string) ([]config.TenantBinding, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("onboard: read %s: %w", path, err)
	}
	var bindings []config.TenantBinding
	if err := json5.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("onboard: parse %s: %w", path, err)
	}
	return bindings, nil
}
