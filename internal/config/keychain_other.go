//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// secrets.json maps service → account → value. It is written 0600.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func keychainGet(service, account string) ([]byte, error) {
	var secrets secretsFile
	if err := readJSON(secretsFilePath(), &secrets); err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	secrets := secretsFile{}
	if err := readJSON(p, &secrets); err != nil {
		return fmt.Errorf("reading secrets: %w", err)
	}
	if secrets[service] == nil {
		secrets[service] = map[string]string{}
	}
	if value == "" {
		delete(secrets[service], account)
	} else {
		secrets[service][account] = value
	}
	return writeJSON(p, secrets)
}
