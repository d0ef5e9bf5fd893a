package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"

	"github.com/and161185/callrelay/internal/api"
	"github.com/and161185/callrelay/internal/auth"
	"github.com/and161185/callrelay/internal/crypto"
	"github.com/and161185/callrelay/internal/limiter"
	"github.com/and161185/callrelay/internal/notify"
	"github.com/and161185/callrelay/internal/repository/memory"
	grpcserver "github.com/and161185/callrelay/internal/server/grpc"
	"github.com/and161185/callrelay/internal/service"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "callrelay")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "admin_token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
	if !strings.HasPrefix(sessionPath(), base) || !strings.HasSuffix(sessionPath(), "session.json") {
		t.Fatalf("sessionPath unexpected: %s", sessionPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_session_SaveLoad(t *testing.T) {
	base := withTmpConfig(t)

	if _, err := loadSession(); err == nil {
		t.Fatalf("expected error when session missing")
	}
	want := session{PhoneNumber: "+4798765432", IdentityID: "id-1", DeviceID: "dev-1"}
	if err := saveSession(want); err != nil {
		t.Fatalf("saveSession: %v", err)
	}
	got, err := loadSession()
	if err != nil || got != want {
		t.Fatalf("loadSession: %+v %v", got, err)
	}
	st, err := os.Stat(filepath.Join(base, "session.json"))
	if err != nil {
		t.Fatalf("session file missing: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("session file mode %v", st.Mode().Perm())
	}
	if got := mustNumber(""); got != want.PhoneNumber {
		t.Fatalf("mustNumber fallback = %q", got)
	}
	if got := mustNumber("+4711112222"); got != "+4711112222" {
		t.Fatalf("mustNumber explicit = %q", got)
	}

	if err := saveSession(session{}); err != nil {
		t.Fatalf("saveSession empty: %v", err)
	}
	if _, err := loadSession(); err == nil {
		t.Fatalf("want error for session without number")
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "offer.sdp")
	_ = os.WriteFile(tmp, []byte("v=0"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "v=0" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("bearerCreds over TLS must require transport security")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext bearerCreds must not require transport security")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}

	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}

	if _, err := loadTLS(filepath.Join(t.TempDir(), "missing.pem"), false); err == nil {
		t.Fatalf("missing CA should error")
	}
}

// startRelay serves a relay over plaintext gRPC on a loopback port.
func startRelay(t *testing.T, adminKey string) string {
	t.Helper()
	log := zaptest.NewLogger(t)
	h, err := crypto.NewCodeHasher(nil)
	require.NoError(t, err)

	dir := memory.NewDirectory()
	codeStore := memory.NewCodeStore()
	calls := memory.NewCallStore()
	mb := memory.NewMailbox()
	relay := service.NewRelay(service.RelayDeps{
		Verification: service.NewVerificationService(codeStore, dir, notify.NewLog(log), h, limiter.Nop{}, time.Minute, log),
		Calls:        service.NewCallService(calls, dir, mb, service.CallOptions{}),
		Directory:    dir,
		Codes:        codeStore,
		CallStore:    calls,
		Mailbox:      mb,
	}, time.Second, log)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	grpcserver.RegisterRelayServer(srv, grpcserver.New(relay, auth.NewTokens([]byte(adminKey), time.Minute), log))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func Test_dial_Plaintext(t *testing.T) {
	t.Parallel()

	addr := startRelay(t, "admin-key")
	o := dialOpts{addr: addr, plaintext: true}

	cc, cli, err := dial(o, "")
	require.NoError(t, err)
	defer cc.Close()

	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := cli.RequestCode(ctx, &api.RequestCodeRequest{PhoneNumber: "+4798765432"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	// admin calls carry the issued token
	tok, _, err := auth.NewTokens([]byte("admin-key"), time.Minute).Issue("cli")
	require.NoError(t, err)
	acc, admin, err := dial(o, tok)
	require.NoError(t, err)
	defer acc.Close()

	stats, err := admin.Stats(ctx, &api.StatsRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCodes)
}
