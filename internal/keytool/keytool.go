// Package keytool implements the operator commands behind cmd/keytool:
// generating an ENCRYPTION_KEY, encrypting and decrypting single field
// values, and hashing or checking passwords.
package keytool

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/flagx"
	"github.com/gookit/color"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const usage = `usage: keytool <command> [flags] [value]

commands:
  genkey  [-bytes 32]             print a new random secret
  encrypt [-mode hkdf|raw] value  encrypt a field with ENCRYPTION_KEY
  decrypt [-mode hkdf|raw] value  decrypt a field with ENCRYPTION_KEY
  hash    [-cost 12]              bcrypt a password read without echo
  verify  hash                    check a password against a bcrypt hash
`

// Tool carries the process environment so commands can be run in tests.
type Tool struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	// IsTerminal reports whether Stdin is interactive; secrets are then
	// read without echo.
	IsTerminal bool

	in *bufio.Reader
}

// New returns a Tool bound to the real process streams.
func New() *Tool {
	return &Tool{
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Getenv:     os.Getenv,
		IsTerminal: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

var errUsage = errors.New("usage")

// Run executes one command and returns the process exit code.
func (t *Tool) Run(args []string) int {
	cmd, rest := flagx.Subcommand(args)

	var err error
	switch cmd {
	case "genkey":
		err = t.genkey(rest)
	case "encrypt":
		err = t.crypt(rest, true)
	case "decrypt":
		err = t.crypt(rest, false)
	case "hash":
		err = t.hash(rest)
	case "verify":
		err = t.verify(rest)
	case "help", "-h", "--help":
		fmt.Fprint(t.Stdout, usage)
		return 0
	default:
		err = errUsage
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprint(t.Stderr, usage)
		return 2
	default:
		fmt.Fprintln(t.Stderr, color.Red.Sprint("error: ")+err.Error())
		return 1
	}
}

func (t *Tool) genkey(args []string) error {
	fs := t.flagSet("genkey")
	n := fs.Int("bytes", cryptox.KeySize, "number of random bytes")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *n < cryptox.KeySize {
		return fmt.Errorf("%w: at least %d bytes are required", common.ErrInvalidInput, cryptox.KeySize)
	}
	s, err := cryptox.GenerateSecret(*n)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.Stdout, s)
	return nil
}

func (t *Tool) crypt(args []string, encrypt bool) error {
	fs := t.flagSet("crypt")
	mode := fs.String("mode", string(cryptox.KeyModeHKDF), "key derivation: hkdf or raw")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	km, err := cryptox.ParseKeyMode(*mode)
	if err != nil {
		return err
	}

	secret := t.Getenv("ENCRYPTION_KEY")
	if secret == "" {
		if secret, err = t.secret("ENCRYPTION_KEY: "); err != nil {
			return err
		}
	}
	c, err := cryptox.NewFieldCipherFromSecret(secret, km)
	if err != nil {
		return err
	}

	value, err := t.value(fs.Args())
	if err != nil {
		return err
	}

	var out string
	if encrypt {
		out, err = c.Encrypt(value)
	} else {
		out, err = c.Decrypt(value)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(t.Stdout, out)
	return nil
}

func (t *Tool) hash(args []string) error {
	fs := t.flagSet("hash")
	cost := fs.Int("cost", cryptox.DefaultPasswordCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	pw, err := t.secret("Password: ")
	if err != nil {
		return err
	}
	h, err := cryptox.NewPasswordHasher(*cost).Hash(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.Stdout, h)
	return nil
}

func (t *Tool) verify(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	pw, err := t.secret("Password: ")
	if err != nil {
		return err
	}
	if !cryptox.NewPasswordHasher(cryptox.DefaultPasswordCost).Verify(pw, args[0]) {
		fmt.Fprintln(t.Stdout, color.Red.Sprint("mismatch"))
		return fmt.Errorf("%w: password does not match", common.ErrorUnauthorized)
	}
	fmt.Fprintln(t.Stdout, color.Green.Sprint("ok"))
	return nil
}

func (t *Tool) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(t.Stderr)
	return fs
}

// secret prompts on Stderr and reads without echo from a terminal, or one
// line from a pipe.
func (t *Tool) secret(prompt string) (string, error) {
	if t.IsTerminal {
		fmt.Fprint(t.Stderr, prompt)
		b, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(t.Stderr)
		if err != nil {
			return "", err
		}
		defer common.WipeByteArray(b)
		return string(b), nil
	}
	return t.readLine()
}

// value takes the positional argument, or one line of Stdin when there is none.
func (t *Tool) value(args []string) (string, error) {
	switch len(args) {
	case 0:
		return t.readLine()
	case 1:
		return args[0], nil
	default:
		return "", errUsage
	}
}

func (t *Tool) readLine() (string, error) {
	if t.in == nil {
		t.in = bufio.NewReader(t.Stdin)
	}
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: no input", common.ErrInvalidInput)
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
