package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/animectl/internal/ui"
	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/vault"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// stdin serves line prompts (confirmations, recovery secrets).
var stdin = bufio.NewReader(os.Stdin)

// promptPassword prints prompt to stderr and reads a password without echo.
// The caller wipes the returned slice.
func promptPassword(cmd *cobra.Command, prompt string) ([]byte, error) {
	w := cmd.ErrOrStderr()
	fmt.Fprint(w, prompt)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return pw, nil
}

// promptNewPassword asks for a password twice. With strength set it applies
// the master password rules and prints the strength and warnings.
func promptNewPassword(cmd *cobra.Command, label string, strength bool) ([]byte, error) {
	password1, err := promptPassword(cmd, fmt.Sprintf("Enter %s: ", label))
	if err != nil {
		return nil, err
	}
	password2, err := promptPassword(cmd, fmt.Sprintf("Confirm %s: ", label))
	defer crypto.SecureWipe(password2)
	if err != nil {
		crypto.SecureWipe(password1)
		return nil, err
	}

	if string(password1) != string(password2) {
		crypto.SecureWipe(password1)
		return nil, errors.New("passwords do not match")
	}
	if len(password1) == 0 {
		return nil, errors.New("password cannot be empty")
	}

	if strength {
		result := vault.ValidatePassword(string(password1))
		if !result.Valid {
			crypto.SecureWipe(password1)
			// Hard errors (length requirements)
			return nil, fmt.Errorf("password validation failed: %s", result.Warnings[0])
		}
		w := cmd.ErrOrStderr()
		fmt.Fprintf(w, "Password strength: %s\n", result.Strength)
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "%s %s\n", ui.Warning.Sprint("Warning:"), warning)
		}
	}
	return password1, nil
}

// readLine prints prompt to stderr and reads one line from stdin.
func readLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(cmd *cobra.Command, prompt string) bool {
	answer, err := readLine(cmd, prompt+" [y/N]: ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
