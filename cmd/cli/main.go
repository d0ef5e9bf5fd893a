// Command callrelay is a CLI client for the relay's gRPC API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/callrelay/internal/api"
	"github.com/and161185/callrelay/internal/auth"
	"github.com/and161185/callrelay/internal/convert"
	grpcserver "github.com/and161185/callrelay/internal/server/grpc"
)

// ---- config/session store ----

// session remembers the number verified by the last successful redeem.
type session struct {
	PhoneNumber string `json:"phone_number"`
	IdentityID  string `json:"identity_id"`
	DeviceID    string `json:"device_id"`
}

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "callrelay")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "callrelay")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }
func tokenPath() string   { return filepath.Join(cfgDir(), "admin_token.json") }

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func saveSession(s session) error { return writeJSONFile(sessionPath(), s) }

func loadSession() (session, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return session{}, err
	}
	var s session
	if err := json.Unmarshal(b, &s); err != nil {
		return session{}, err
	}
	if s.PhoneNumber == "" {
		return session{}, errors.New("no verified number (redeem first)")
	}
	return s, nil
}

func saveToken(tok string, exp time.Time) error {
	return writeJSONFile(tokenPath(), tokenFile{AccessToken: tok, ExpiresAt: exp})
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
		return "", errors.New("no valid admin token (run admin-token)")
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

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(o.caPath, o.skipVerify)
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

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `callrelay CLI
Usage:
  callrelay -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  request-code    -phone <number>
  redeem          -phone <number> -code <code> [-name <display>] [-token <device token>]   (saves session)
  register-device [-phone <number>] -token <device token>
  call            -to <number> [-from <number>]
  offer           -call <id> -sdp <file|->
  answer          -call <id> -sdp <file|->
  candidate       -call <id> -candidate <line> [-mid <mid>] [-mline <index>] [-ufrag <ufrag>]
  events          [-phone <number>] [-wait <duration>] [-follow]
  admin-token     -key <admin key> [-sub <name>] [-ttl <duration>]   (saves token)
  stats
  call-info       -id <call id>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (dev server without certificates)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]
	o := dialOpts{addr: *addr, caPath: *caPath, skipVerify: *skipVerify, plaintext: *plaintext}

	switch cmd {
	case "version":
		fmt.Printf("callrelay %s (%s)\n", version, buildDate)
	case "request-code":
		cmdRequestCode(args, o)
	case "redeem":
		cmdRedeem(args, o)
	case "register-device":
		cmdRegisterDevice(args, o)
	case "call":
		cmdCall(args, o)
	case "offer":
		cmdDescription(args, o, "offer")
	case "answer":
		cmdDescription(args, o, "answer")
	case "candidate":
		cmdCandidate(args, o)
	case "events":
		cmdEvents(args, o)
	case "admin-token":
		cmdAdminToken(args)
	case "stats":
		cmdStats(o)
	case "call-info":
		cmdCallInfo(args, o)
	default:
		usage()
	}
}

func cmdRequestCode(args []string, o dialOpts) {
	fs := flag.NewFlagSet("request-code", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number (E.164)")
	_ = fs.Parse(args)
	if *phone == "" {
		fmt.Fprintln(os.Stderr, "need -phone")
		os.Exit(1)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	resp, err := cli.RequestCode(ctx, &api.RequestCodeRequest{PhoneNumber: *phone})
	if err != nil {
		fail(err)
	}
	fmt.Println(resp.Message)
}

func cmdRedeem(args []string, o dialOpts) {
	fs := flag.NewFlagSet("redeem", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number (E.164)")
	code := fs.String("code", "", "verification code")
	name := fs.String("name", "", "display name")
	token := fs.String("token", "", "device push token")
	_ = fs.Parse(args)
	if *phone == "" || *code == "" {
		fmt.Fprintln(os.Stderr, "need -phone and -code")
		os.Exit(1)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	resp, err := cli.RedeemCode(ctx, &api.RedeemCodeRequest{PhoneNumber: *phone, Code: *code, DisplayName: *name, DeviceToken: *token})
	if err != nil {
		fail(err)
	}
	if err := saveSession(session{PhoneNumber: *phone, IdentityID: resp.IdentityID, DeviceID: resp.DeviceID}); err != nil {
		fail(err)
	}
	printJSON(resp)
}

func cmdRegisterDevice(args []string, o dialOpts) {
	fs := flag.NewFlagSet("register-device", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number (default: session)")
	token := fs.String("token", "", "device push token")
	_ = fs.Parse(args)

	number := mustNumber(*phone)
	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	resp, err := cli.RegisterDevice(ctx, &api.RegisterDeviceRequest{PhoneNumber: number, DeviceToken: *token})
	if err != nil {
		fail(err)
	}
	fmt.Println(resp.DeviceID)
}

func cmdCall(args []string, o dialOpts) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	to := fs.String("to", "", "callee phone number")
	from := fs.String("from", "", "caller phone number (default: session)")
	_ = fs.Parse(args)
	if *to == "" {
		fmt.Fprintln(os.Stderr, "need -to")
		os.Exit(1)
	}

	caller := mustNumber(*from)
	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	resp, err := cli.InitiateCall(ctx, &api.InitiateCallRequest{From: caller, To: *to})
	if err != nil {
		fail(err)
	}
	printJSON(resp)
}

func cmdDescription(args []string, o dialOpts, kind string) {
	fs := flag.NewFlagSet(kind, flag.ExitOnError)
	callID := fs.String("call", "", "call id")
	src := fs.String("sdp", "", "SDP file, raw or {type,sdp} JSON (- for stdin)")
	_ = fs.Parse(args)
	if *callID == "" || *src == "" {
		fmt.Fprintf(os.Stderr, "need -call and -sdp\n")
		os.Exit(1)
	}

	raw, err := readAll(*src)
	if err != nil {
		fail(err)
	}
	desc, err := parseDescription(raw, kind)
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	wire := *convert.ToDescription(&desc)
	if kind == "offer" {
		_, err = cli.SubmitOffer(ctx, &api.OfferRequest{CallID: *callID, Offer: wire})
	} else {
		_, err = cli.SubmitAnswer(ctx, &api.AnswerRequest{CallID: *callID, Answer: wire})
	}
	if err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

func cmdCandidate(args []string, o dialOpts) {
	fs := flag.NewFlagSet("candidate", flag.ExitOnError)
	callID := fs.String("call", "", "call id")
	line := fs.String("candidate", "", "candidate line")
	mid := fs.String("mid", "", "sdpMid")
	mline := fs.Int("mline", -1, "sdpMLineIndex")
	ufrag := fs.String("ufrag", "", "usernameFragment")
	_ = fs.Parse(args)
	if *callID == "" || *line == "" {
		fmt.Fprintln(os.Stderr, "need -call and -candidate")
		os.Exit(1)
	}

	req, err := buildCandidate(*callID, *line, *mid, *mline, *ufrag)
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	if _, err := cli.SubmitCandidate(ctx, req); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

func cmdEvents(args []string, o dialOpts) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number (default: session)")
	wait := fs.Duration("wait", 0, "long-poll up to this long")
	follow := fs.Bool("follow", false, "stream events until interrupted")
	_ = fs.Parse(args)

	number := mustNumber(*phone)
	cc, cli, err := dial(o, "")
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	if !*follow {
		ctx, cancel := context.WithTimeout(context.Background(), *wait+30*time.Second)
		defer cancel()
		req := &api.EventsRequest{PhoneNumber: number}
		if *wait > 0 {
			req.Wait = wait.String()
		}
		resp, err := cli.DrainEvents(ctx, req)
		if err != nil {
			fail(err)
		}
		for _, ev := range resp.Events {
			fmt.Println(formatEvent(ev))
		}
		return
	}

	ctx, stop := signalContext()
	defer stop()
	stream, err := cli.WatchEvents(ctx, &api.EventsRequest{PhoneNumber: number})
	if err != nil {
		fail(err)
	}
	for {
		batch, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			fail(err)
		}
		for _, ev := range batch.Events {
			fmt.Println(formatEvent(ev))
		}
	}
}

func cmdAdminToken(args []string) {
	fs := flag.NewFlagSet("admin-token", flag.ExitOnError)
	key := fs.String("key", os.Getenv("CALLRELAY_ADMIN_KEY"), "admin key (default $CALLRELAY_ADMIN_KEY)")
	sub := fs.String("sub", "cli", "operator name")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	_ = fs.Parse(args)
	if *key == "" {
		fmt.Fprintln(os.Stderr, "need -key")
		os.Exit(1)
	}

	tok, exp, err := auth.NewTokens([]byte(*key), *ttl).Issue(*sub)
	if err != nil {
		fail(err)
	}
	if err := saveToken(tok, exp); err != nil {
		fail(err)
	}
	fmt.Println(tok)
}

func cmdStats(o dialOpts) {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, token)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.Stats(ctx, &api.StatsRequest{})
	if err != nil {
		fail(err)
	}
	printJSON(out)
}

func cmdCallInfo(args []string, o dialOpts) {
	fs := flag.NewFlagSet("call-info", flag.ExitOnError)
	id := fs.String("id", "", "call id")
	_ = fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "need -id")
		os.Exit(1)
	}

	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	ctx, cancel := withTimeout()
	defer cancel()
	cc, cli, err := dial(o, token)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.GetCall(ctx, &api.CallRequest{CallID: *id})
	if err != nil {
		fail(err)
	}
	printJSON(out.Call)
}

// ---- helpers ----

// mustNumber returns explicit, or the session number when explicit is empty.
func mustNumber(explicit string) string {
	if explicit != "" {
		return explicit
	}
	s, err := loadSession()
	if err != nil {
		fail(fmt.Errorf("no -phone given and %w", err))
	}
	return s.PhoneNumber
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
