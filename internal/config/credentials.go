package config

import "github.com/BurntSushi/toml"

// Credentials holds the per-profile login state written after a successful
// sign-in. The sender label is what appears next to the user's messages.
type Credentials struct {
	Token       string `toml:"token"`
	SenderLabel string `toml:"sender_label"`
}

// LoadCredentials reads credentials from the given path.
func LoadCredentials(path string) (*Credentials, error) {
	var creds Credentials
	_, err := toml.DecodeFile(path, &creds)
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveCredentials writes credentials with 0600 permissions.
func SaveCredentials(path string, creds *Credentials) error {
	return writeTOML(path, creds)
}
