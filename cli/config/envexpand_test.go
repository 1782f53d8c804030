package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("ECSU_TEST_VAULT", "photos")
	t.Setenv("ECSU_TEST_REGION", "us-east-1")
	t.Setenv("ECSU_TEST_EMPTY", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"set", "vault: ${ECSU_TEST_VAULT}", "vault: photos"},
		{"unset", "vault: ${ECSU_TEST_UNSET_9431}", "vault: "},
		{"fallback when unset", "region: ${ECSU_TEST_UNSET_9431:-eu-central-1}", "region: eu-central-1"},
		{"fallback when empty", "region: ${ECSU_TEST_EMPTY:-eu-central-1}", "region: eu-central-1"},
		{"fallback ignored when set", "region: ${ECSU_TEST_REGION:-eu-central-1}", "region: us-east-1"},
		{"empty fallback", "x${ECSU_TEST_UNSET_9431:-}y", "xy"},
		{"several", "${ECSU_TEST_VAULT}/${ECSU_TEST_REGION}", "photos/us-east-1"},
		{"no references", "plain text", "plain text"},
		{"bare dollar kept", "secret: pa$$word$ECSU_TEST_VAULT", "secret: pa$$word$ECSU_TEST_VAULT"},
		{"invalid name kept", "${1BAD}", "${1BAD}"},
		{"unterminated kept", "${ECSU_TEST_VAULT", "${ECSU_TEST_VAULT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.in); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_ProfileYAML(t *testing.T) {
	t.Setenv("ECSU_TEST_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("ECSU_TEST_SECRET", "s3cr3t")

	in := `profiles:
  default:
    transfer: glacier
    access_key_id: ${ECSU_TEST_KEY_ID}
    secret_access_key: ${ECSU_TEST_SECRET}
    region: ${ECSU_TEST_UNSET_9431:-eu-central-1}`
	want := `profiles:
  default:
    transfer: glacier
    access_key_id: AKIAEXAMPLE
    secret_access_key: s3cr3t
    region: eu-central-1`

	if got := ExpandEnv(in); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
