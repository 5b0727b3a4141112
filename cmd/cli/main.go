// Command cardkeeper is the operator CLI for the cardkeeper gRPC API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/cardkeeper/internal/auth"
	grpcserver "github.com/and161185/cardkeeper/internal/server/grpc"
)

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "cardkeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cardkeeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `cardkeeper token` or pass --token)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type connOpts struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func dial(o connOpts, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(o.caPath, o.insecure)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	cc, err := grpc.NewClient(o.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `cardkeeper CLI
Usage:
  cardkeeper --addr HOST:PORT [--cacert file | --insecure | --plaintext] [--token T] <cmd> [args]

Commands:
  version
  token    --user <id> [--admin] [--ttl 1h] [--key K]   (mints and saves a token)
  due      [--deck <uuid>] [--course <id>] [--limit N]
  review   --deck <uuid> --card <uuid> --rating again|hard|good|easy|1..4
           [--correct=true|false] [--thinking SEC] [--confidence 1..5]
  health   [--user <id>] [--all]
  repair   [--user <id>] [--all]
  backups  [--deck <uuid>] [--limit N]
  restore  --deck <uuid> --at <RFC3339 timestamp>
`)
	os.Exit(2)
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	global := pflag.NewFlagSet("cardkeeper", pflag.ExitOnError)
	global.SetInterspersed(false)
	var o connOpts
	global.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	global.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	global.BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	global.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	token := global.String("token", "", "bearer token; defaults to the saved one")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	if global.NArg() < 1 {
		usage()
	}
	cmd, args := global.Arg(0), global.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("cardkeeper %s (%s)\n", version, buildDate)
		return
	case "token":
		if err := mintToken(args, os.Stdout); err != nil {
			fail(err)
		}
		return
	}

	run, ok := commands[cmd]
	if !ok {
		usage()
	}

	bearer := strings.TrimSpace(*token)
	if bearer == "" {
		t, err := loadToken()
		if err != nil {
			fail(err)
		}
		bearer = t
	}

	cc, cl, err := dial(o, bearer)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, cl, args, os.Stdout); err != nil {
		fail(err)
	}
}

// mintToken signs a token with the shared key and saves it for later commands.
func mintToken(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	user := fs.String("user", "", "subject user id")
	admin := fs.Bool("admin", false, "grant the admin role")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	key := fs.String("key", os.Getenv("CARDKEEPER_AUTH_KEY"), "HS256 key (default $CARDKEEPER_AUTH_KEY)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *key == "" {
		return errors.New("need --user and --key")
	}
	now := time.Now()
	tok, err := auth.Sign([]byte(*key), auth.Identity{UserID: *user, Admin: *admin}, *ttl, now)
	if err != nil {
		return err
	}
	if err := saveToken(tok, now.Add(*ttl)); err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}
