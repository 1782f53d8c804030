package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/filter"
	"github.com/Kovercrosser/easy-cold-storage-uploader/ledger"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
)

// lockedBuffer is a bytes.Buffer safe for the concurrent writers of a
// transfer (workers logging, the progress renderer).
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	dir    string
	config string
	vault  string
}

func newTestEnv(t *testing.T, profile string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	te := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		vault:  filepath.Join(dir, "vault"),
	}
	body := "log_level: error\n" +
		"ledger:\n  path: " + filepath.Join(dir, "ledger") + "\n" +
		"download:\n  poll_interval: 10ms\n" +
		"profiles:\n  default:\n" +
		"    transfer: save\n" +
		"    save_location: " + te.vault + "\n" +
		"    chunk_size: \"1\"\n" +
		profile
	if err := os.WriteFile(te.config, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return te
}

func (te *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := NewApp("test")
	var stdout lockedBuffer
	var stderr lockedBuffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	argv := append([]string{"ecsu", "--config", te.config}, args...)
	err := app.RunContext(t.Context(), argv)
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

// writeSource creates a directory with a few files, one spanning several parts.
func writeSource(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "photos")
	rng := rand.New(rand.NewPCG(1, 2))
	big := make([]byte, 3<<20+4321)
	for i := range big {
		big[i] = byte(rng.Uint32())
	}
	files := map[string][]byte{
		"big.bin":       big,
		"notes.txt":     []byte("alpha"),
		"sub/inner.txt": []byte(strings.Repeat("bravo ", 500)),
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func assertSameTree(t *testing.T, src, dst string) {
	t.Helper()
	err := filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(filepath.Dir(src), p)
		want, _ := os.ReadFile(p)
		got, err := os.ReadFile(filepath.Join(dst, rel))
		if err != nil {
			t.Errorf("missing %s: %v", rel, err)
			return nil
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s content differs", rel)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	return v
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestArchiveName(t *testing.T) {
	ft, _ := filter.NewFiletype(filter.FiletypeTar, 0)
	comp, _ := filter.NewCompression(filter.CompressionZstd, 6)
	enc, _ := filter.NewEncryption(filter.EncryptionAES, "pw")
	chain := filter.Chain{Filetype: ft, Compression: comp, Encryption: enc}

	at := time.Date(2026, 3, 1, 13, 30, 5, 0, time.FixedZone("CET", 3600))
	if got, want := ArchiveName(at, chain), "2026-03-01T12-30-05.tar.zst.aes"; got != want {
		t.Errorf("ArchiveName = %q, want %q", got, want)
	}
	if got, want := containerName("2026-03-01T12-30-05.tar.zst.aes", chain), "2026-03-01T12-30-05.tar"; got != want {
		t.Errorf("containerName = %q, want %q", got, want)
	}
}

func TestUploadDownload_SaveRoundTrip(t *testing.T) {
	te := newTestEnv(t, "    filetype: tar\n    compression: zstd\n")
	src := writeSource(t)

	out, err := te.run(t, "upload", "--encryption", "aes", "--password", "s3cret", "--workers", "3", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	up := decode[TransferSummary](t, out)
	if up.Method != "save" || up.DryRun {
		t.Errorf("summary = %+v", up)
	}
	if !strings.HasSuffix(up.FileName, ".tar.zst.aes") {
		t.Errorf("file name %q lacks filter extensions", up.FileName)
	}
	if up.Parts < 3 {
		t.Errorf("parts = %d, want at least 3 one-MiB parts", up.Parts)
	}
	if _, err := os.Stat(filepath.Join(te.vault, up.FileName)); err != nil {
		t.Errorf("archive not in save location: %v", err)
	}

	dst := t.TempDir()
	out, err = te.run(t, "download", "--id", up.RecordID, "--location", dst, "--unpack", "--password", "s3cret")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	down := decode[DownloadSummary](t, out)
	if down.ArchiveID != up.ArchiveID || !down.Unpacked {
		t.Errorf("download summary = %+v", down)
	}
	assertSameTree(t, src, dst)

	// The archive id resolves the same record.
	dst2 := t.TempDir()
	out, err = te.run(t, "download", "--id", up.ArchiveID, "--location", dst2, "--password", "s3cret")
	if err != nil {
		t.Fatalf("download by archive id: %v", err)
	}
	down = decode[DownloadSummary](t, out)
	if filepath.Base(down.Output) != strings.TrimSuffix(up.FileName, ".zst.aes") {
		t.Errorf("container written to %s", down.Output)
	}
	if _, err := os.Stat(down.Output); err != nil {
		t.Errorf("container file: %v", err)
	}
}

func TestDownload_WrongPasswordFails(t *testing.T) {
	te := newTestEnv(t, "    filetype: tar\n")
	src := writeSource(t)

	out, err := te.run(t, "upload", "--encryption", "age", "--password", "right", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	up := decode[TransferSummary](t, out)

	if _, err := te.run(t, "download", "--id", up.RecordID, "--location", t.TempDir(), "--unpack", "--password", "wrong"); err == nil {
		t.Fatal("download with the wrong password succeeded")
	}
}

func TestUpload_DryRun(t *testing.T) {
	te := newTestEnv(t, "")
	src := writeSource(t)

	out, err := te.run(t, "upload", "--dryrun", "--stats", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	dec := json.NewDecoder(strings.NewReader(out))
	var up TransferSummary
	if err := dec.Decode(&up); err != nil {
		t.Fatal(err)
	}
	if !up.DryRun || up.ArchiveID != transfer.DryRunArchiveID {
		t.Errorf("summary = %+v", up)
	}
	var stats map[string]any
	if err := dec.Decode(&stats); err != nil {
		t.Fatalf("stats output: %v", err)
	}
	if stats["dry_run"] != true {
		t.Errorf("stats = %v", stats)
	}
	entries, _ := os.ReadDir(te.vault)
	if len(entries) != 0 {
		t.Errorf("dry run wrote %d entries to the save location", len(entries))
	}

	// Dry runs are recorded but cannot be downloaded.
	out, err = te.run(t, "list", "--format", "json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	records := decode[[]ledger.Record](t, out)
	if len(records) != 1 || !records[0].Info.DryRun {
		t.Fatalf("records = %+v", records)
	}
	_, err = te.run(t, "download", "--id", up.RecordID, "--location", t.TempDir())
	if !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("download of dry run = %v, want configuration error", err)
	}
}

func TestUpload_ConfigurationErrors(t *testing.T) {
	src := writeSource(t)
	emptyFile := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(emptyFile, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no paths", []string{"upload"}},
		{"missing path", []string{"upload", filepath.Join(src, "nope")}},
		{"glacier without vault", []string{"upload", "--transfer", "glacier", "--region", "eu-west-1", src}},
		{"s3 without bucket", []string{"upload", "--transfer", "s3", src}},
		{"unknown transfer", []string{"upload", "--transfer", "tape", src}},
		{"unknown compression", []string{"upload", "--compression", "rar", src}},
		{"compression level", []string{"upload", "--compression", "lzma", "--compression-level", "12", src}},
		{"part size", []string{"upload", "--chunk-size", "3", src}},
		{"single worker", []string{"upload", "--workers", "1", src}},
		{"empty password file", []string{"upload", "--encryption", "aes", "--password-file", emptyFile, src}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv(t, "")
			_, err := te.run(t, tt.args...)
			if !errors.Is(err, transfer.ErrConfiguration) {
				t.Errorf("err = %v, want configuration error", err)
			}
		})
	}
}

func TestUpload_PasswordFile(t *testing.T) {
	te := newTestEnv(t, "    filetype: zip\n")
	src := writeSource(t)
	pwFile := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(pwFile, []byte("  from-file \nignored\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := te.run(t, "upload", "--encryption", "aes", "--password-file", pwFile, src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	up := decode[TransferSummary](t, out)

	dst := t.TempDir()
	if _, err := te.run(t, "download", "--id", up.RecordID, "--location", dst, "--unpack", "--password", "from-file"); err != nil {
		t.Fatalf("download: %v", err)
	}
	assertSameTree(t, src, dst)
}

func TestDownload_UnknownID(t *testing.T) {
	te := newTestEnv(t, "")
	_, err := te.run(t, "download", "--id", "does-not-exist")
	if !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestList(t *testing.T) {
	te := newTestEnv(t, "")
	src := writeSource(t)
	for range 2 {
		if _, err := te.run(t, "upload", "--dryrun", src); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}

	out, err := te.run(t, "list", "--format", "json", "--limit", "1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := decode[[]ledger.Record](t, out); len(got) != 1 {
		t.Errorf("limit 1 returned %d records", len(got))
	}

	out, err = te.run(t, "list", "--format", "json", "--type", "glacier")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := decode[[]ledger.Record](t, out); len(got) != 0 {
		t.Errorf("glacier filter returned %d records", len(got))
	}

	out, err = te.run(t, "list", "--format", "table")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "file_name") || strings.Count(out, "save") != 2 {
		t.Errorf("table output:\n%s", out)
	}

	if _, err := te.run(t, "list", "--type", "tape"); !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("unknown type err = %v", err)
	}
}

func TestProfileCommands(t *testing.T) {
	te := newTestEnv(t, "")

	if _, err := te.run(t, "--profile", "work", "profile", "set", "region", "eu-central-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := te.run(t, "--profile", "work", "profile", "set", "secret_access_key", "hunter2"); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	out, err := te.run(t, "--profile", "work", "profile", "get", "region")
	if err != nil || out != "eu-central-1\n" {
		t.Errorf("get region = %q, %v", out, err)
	}
	out, err = te.run(t, "--profile", "work", "profile", "get", "secret_access_key")
	if err != nil || out != secretMask+"\n" {
		t.Errorf("get secret = %q, %v", out, err)
	}
	out, err = te.run(t, "--profile", "work", "profile", "get", "--show-secret", "secret_access_key")
	if err != nil || out != "hunter2\n" {
		t.Errorf("get secret unmasked = %q, %v", out, err)
	}

	out, err = te.run(t, "profile", "list", "--format", "json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	profiles := decode[[]ProfileSettings](t, out)
	if len(profiles) != 2 || profiles[1].Name != "work" || profiles[1].Settings["secret_access_key"] != secretMask {
		t.Errorf("profiles = %+v", profiles)
	}

	if _, err := te.run(t, "profile", "set", "colour", "blue"); !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("unknown key err = %v", err)
	}
	if _, err := te.run(t, "profile", "set", "workers", "many"); !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("non-numeric workers err = %v", err)
	}
	if _, err := te.run(t, "--profile", "work", "profile", "get", "vault"); !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("unset key err = %v", err)
	}
}

func TestUnknownProfile(t *testing.T) {
	te := newTestEnv(t, "")
	_, err := te.run(t, "--profile", "missing", "list")
	if !errors.Is(err, transfer.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestVersion(t *testing.T) {
	te := newTestEnv(t, "")
	out, err := te.run(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	v := decode[VersionResponse](t, out)
	if v.Version == "" || v.Commit != "test" {
		t.Errorf("version = %+v", v)
	}
}

func TestDownload_UnpackFailsVerificationLeavesNothing(t *testing.T) {
	te := newTestEnv(t, "    filetype: tar\n")
	src := writeSource(t)

	out, err := te.run(t, "upload", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	up := decode[TransferSummary](t, out)

	// Flip a byte inside big.bin: the tar still extracts, the tree hash no longer matches.
	archive := filepath.Join(te.vault, up.FileName)
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	data[1<<20] ^= 0xff
	if err := os.WriteFile(archive, data, 0o600); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	_, err = te.run(t, "download", "--id", up.RecordID, "--location", dst, "--unpack")
	if !errors.Is(err, transfer.ErrChecksum) {
		t.Fatalf("err = %v, want checksum error", err)
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("left %s in the output directory", e.Name())
	}
}

func TestDownload_UnpackKeepsExistingFiles(t *testing.T) {
	te := newTestEnv(t, "    filetype: tar\n")
	src := writeSource(t)

	out, err := te.run(t, "upload", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	up := decode[TransferSummary](t, out)

	dst := t.TempDir()
	existing := filepath.Join(dst, filepath.Base(src), "notes.txt")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("mine"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := te.run(t, "download", "--id", up.RecordID, "--location", dst, "--unpack"); err == nil {
		t.Fatal("download over an existing file succeeded")
	}
	if got, _ := os.ReadFile(existing); string(got) != "mine" {
		t.Errorf("existing file = %q, want it untouched", got)
	}
	if _, err := os.Stat(filepath.Join(dst, filepath.Base(src), "big.bin")); !os.IsNotExist(err) {
		t.Errorf("big.bin was promoted next to a conflict: %v", err)
	}
}
