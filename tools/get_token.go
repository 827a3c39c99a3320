// get_token walks through the OAuth2 consent flow for the Gmail mailbox
// provider and prints the refresh token to configure as GMAIL_REFRESH_TOKEN.
// Only the read-only scope is requested; scans never modify the mailbox.
package main

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"resume-mail-import/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	mb := cfg.Mailbox
	if mb.ClientID == "" || mb.ClientSecret == "" {
		log.Fatal("Please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET (or mailbox.client_id/client_secret in config.yaml)")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     mb.ClientID,
		ClientSecret: mb.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  fmt.Sprintf("http://localhost:%s/callback", cfg.Server.Port),
	}

	authURL := oauthCfg.AuthCodeURL("resume-import", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Open this link and approve read-only mailbox access:\n%v\n", authURL)
	fmt.Print("\nPaste the 'code' parameter from the redirect URL: ")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		log.Fatalf("Failed to read authorization code: %v", err)
	}

	tok, err := oauthCfg.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Unable to exchange authorization code: %v", err)
	}
	if tok.RefreshToken == "" {
		log.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	fmt.Println("\nConfigure the mailbox scanner with:")
	fmt.Println("export MAILBOX_PROVIDER=gmail")
	fmt.Printf("export GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
}
