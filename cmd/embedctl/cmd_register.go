package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

type registerRequest struct {
	ClientID string `json:"client_id"`
	Project  string `json:"project"`
	PID      int    `json:"pid,omitempty"`
}

type registerResponse struct {
	OK           bool   `json:"ok"`
	ClientID     string `json:"client_id"`
	RegisteredAt int64  `json:"registered_at"`
	TotalClients int    `json:"total_clients"`
}

type deregisterRequest struct {
	ClientID string `json:"client_id"`
}

type deregisterResponse struct {
	OK            bool   `json:"ok"`
	ClientID      string `json:"client_id"`
	WasRegistered bool   `json:"was_registered"`
	TotalClients  int    `json:"total_clients"`
}

func newRegisterCmd(baseURL *string) *cobra.Command {
	var clientID, project string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a client with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				if err := promptRegisterForm(&clientID, &project); err != nil {
					return err
				}
			}
			var resp registerResponse
			req := registerRequest{ClientID: clientID, Project: project, PID: os.Getpid()}
			if err := newAPIClient(*baseURL).post(cmd.Context(), "/register-client", req, &resp); err != nil {
				return err
			}
			fmt.Printf("registered %s (total clients: %d)\n", resp.ClientID, resp.TotalClients)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client identifier (prompted interactively if omitted)")
	cmd.Flags().StringVar(&project, "project", "", "project key the client is working against")
	return cmd
}

func newDeregisterCmd(baseURL *string) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "deregister",
		Short: "Deregister a client from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				return fmt.Errorf("--client-id is required")
			}
			var resp deregisterResponse
			req := deregisterRequest{ClientID: clientID}
			if err := newAPIClient(*baseURL).post(cmd.Context(), "/deregister-client", req, &resp); err != nil {
				return err
			}
			fmt.Printf("deregistered %s (was_registered=%t, total clients: %d)\n", resp.ClientID, resp.WasRegistered, resp.TotalClients)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client identifier")
	return cmd
}

// promptRegisterForm fills clientID/project interactively when the caller
// didn't pass --client-id, using the same form library the teacher vendors
// for its own interactive setup prompts.
func promptRegisterForm(clientID, project *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Client ID").Value(clientID).Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("client id must not be empty")
				}
				return nil
			}),
			huh.NewInput().Title("Project key (optional)").Value(project),
		),
	)
	return form.Run()
}
