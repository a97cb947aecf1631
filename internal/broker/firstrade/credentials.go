package firstrade

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Credentials is the parsed content of the key=value credentials file. The
// file never leaves this package; the rest of the system only sees an
// authenticated session.
type Credentials struct {
	Username string
	Password string
	Email    string
	PIN      string
}

// LoadCredentials parses a key=value file. Blank lines and #-comments are
// skipped; values may contain '='.
func LoadCredentials(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials file: %w", err)
	}
	defer f.Close()

	var c Credentials
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch strings.ToUpper(k) {
		case "USERNAME":
			c.Username = v
		case "PASSWORD":
			c.Password = v
		case "EMAIL":
			c.Email = v
		case "PIN":
			c.PIN = v
		}
	}
	if err := sc.Err(); err != nil {
		return Credentials{}, fmt.Errorf("credentials file: %w", err)
	}
	if c.Username == "" || c.Password == "" {
		return Credentials{}, fmt.Errorf("credentials file %s: USERNAME and PASSWORD are required", path)
	}
	return c, nil
}
