package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/ini.v1"

	"github.com/OceanOptics/getOC/internal/platform"
)

// ErrMissingCredentials is returned when a credential is absent and cannot be prompted for.
var ErrMissingCredentials = errors.New("missing credentials")

// Credential sections of the INI file.
const (
	SectionEarthdata  = "earthdata"
	SectionCopernicus = "copernicus"
	SectionCreodias   = "creodias"
)

// Credential is one account.
type Credential struct {
	Username string
	Password string
}

// Complete reports whether both fields are set.
func (c Credential) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// Credentials maps INI sections to accounts.
type Credentials map[string]Credential

// SectionFor returns the INI section holding the account of a backend.
func SectionFor(kind platform.Kind) string {
	switch kind {
	case platform.KindCDSE:
		return SectionCopernicus
	case platform.KindCreodias:
		return SectionCreodias
	default:
		return SectionEarthdata
	}
}

// accountLabel names the account in prompts.
func accountLabel(section string) string {
	switch section {
	case SectionCopernicus:
		return "Copernicus"
	case SectionCreodias:
		return "Creodias"
	default:
		return "EarthData"
	}
}

// LoadCredentials reads an INI file of the form
//
//	[earthdata]
//	username = jdoe
//	password = secret
//
// A missing file yields an empty set.
func LoadCredentials(path string) (Credentials, error) {
	creds := Credentials{}
	if path == "" {
		return creds, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return creds, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	for _, section := range []string{SectionEarthdata, SectionCopernicus, SectionCreodias} {
		if !file.HasSection(section) {
			continue
		}
		s := file.Section(section)
		creds[section] = Credential{
			Username: strings.TrimSpace(s.Key("username").String()),
			Password: s.Key("password").String(),
		}
	}
	return creds, nil
}

// Prompter asks the operator for a missing value.
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

// Resolve returns the account of a backend. A username given on the command
// line replaces the file's. Missing fields are prompted for once; without a
// prompter the result is ErrMissingCredentials.
func (c Credentials) Resolve(kind platform.Kind, username string, prompter Prompter) (Credential, error) {
	section := SectionFor(kind)
	cred := c[section]
	if username != "" {
		cred.Username = username
	}
	if cred.Complete() {
		return cred, nil
	}
	if prompter == nil {
		return Credential{}, fmt.Errorf("%w: no %s account in [%s]", ErrMissingCredentials, accountLabel(section), section)
	}

	label := accountLabel(section)
	if cred.Username == "" {
		v, err := prompter.Prompt(label+" Username: ", false)
		if err != nil {
			return Credential{}, fmt.Errorf("reading username: %w", err)
		}
		cred.Username = strings.TrimSpace(v)
	}
	if cred.Password == "" {
		v, err := prompter.Prompt(label+" Password: ", true)
		if err != nil {
			return Credential{}, fmt.Errorf("reading password: %w", err)
		}
		cred.Password = v
	}
	if !cred.Complete() {
		return Credential{}, fmt.Errorf("%w: empty %s account", ErrMissingCredentials, label)
	}

	c[section] = cred
	return cred, nil
}

// TerminalPrompter reads from an interactive terminal, hiding secrets.
type TerminalPrompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// NewTerminalPrompter returns a prompter on in, or nil when in is not a
// terminal so that callers fail instead of blocking.
func NewTerminalPrompter(in *os.File, out io.Writer) *TerminalPrompter {
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return nil
	}
	return &TerminalPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

// Prompt writes the label and reads one line.
func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	if _, err := fmt.Fprint(p.out, label); err != nil {
		return "", err
	}
	if secret {
		b, err := term.ReadPassword(int(p.in.Fd()))
		_, _ = fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
