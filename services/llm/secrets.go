// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// loadAPIKey reads an API key from the environment or a container secret
// file and seals it in a memguard enclave. The plaintext only exists
// outside locked memory while a request header is being built.
func loadAPIKey(envVar, secretPath string) (*memguard.Enclave, error) {
	key := os.Getenv(envVar)

	if key == "" {
		if content, err := os.ReadFile(secretPath); err == nil {
			key = strings.TrimSpace(string(content))
			slog.Info("Read API key from container secret", "path", secretPath)
		}
	}

	if key == "" {
		return nil, fmt.Errorf("%s is missing", envVar)
	}

	return memguard.NewEnclave([]byte(key)), nil
}

// openKey opens the enclave and returns the key string plus a wipe
// function the caller must run once the header is set.
func openKey(enclave *memguard.Enclave) (string, func(), error) {
	buf, err := enclave.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open API key enclave: %w", err)
	}
	return buf.String(), buf.Destroy, nil
}
