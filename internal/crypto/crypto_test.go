package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Errorf("round trip = %s", got)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
}

func TestLoadKey(t *testing.T) {
	if k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey}); err != nil || k != testKey {
		t.Errorf("raw key = %q, %v", k, err)
	}

	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	if k, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}); err != nil || k != testKey {
		t.Errorf("keystore key = %q, %v", k, err)
	}

	if _, err := LoadKey(KeyConfig{}); !errors.Is(err, ErrNoKeySource) {
		t.Errorf("err = %v, want ErrNoKeySource", err)
	}
}

func TestSignerMessageRecovery(t *testing.T) {
	s, err := LoadSigner(KeyConfig{RawPrivateKey: testKey}, 1)
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if s.ChainID().Int64() != 1 {
		t.Errorf("chain id = %s", s.ChainID())
	}
	msg := []byte("fulcrum relay login")
	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d", sig[64])
	}
	addr, err := RecoverMessageSigner(msg, sig)
	if err != nil || addr != s.Address() {
		t.Errorf("recovered %s, %v; want %s", addr.Hex(), err, s.Address().Hex())
	}
}

func TestNewSignerRejectsBadInput(t *testing.T) {
	if _, err := NewSigner("zz", 1); err == nil {
		t.Error("bad key accepted")
	}
	if _, err := NewSigner(testKey, 0); err == nil {
		t.Error("zero chain id accepted")
	}
}

func TestHMACAuth(t *testing.T) {
	h := &HMACAuth{Key: "relay-key", Secret: "c2VjcmV0"}
	headers := h.HeadersAt("POST", "/orders/market", `{"a":1}`, 1700000000)

	if headers[HeaderRelayKey] != "relay-key" || headers[HeaderRelayTimestamp] != "1700000000" {
		t.Errorf("headers = %v", headers)
	}
	if headers[HeaderRelaySignature] != Sign([]byte("secret"), `1700000000POST/orders/market{"a":1}`) {
		t.Error("signature does not use decoded secret")
	}
	if !h.Verify("POST", "/orders/market", `{"a":1}`, "1700000000", headers[HeaderRelaySignature]) {
		t.Error("Verify rejected own signature")
	}
	if h.Verify("POST", "/orders/market", `{"a":2}`, "1700000000", headers[HeaderRelaySignature]) {
		t.Error("Verify accepted tampered body")
	}
	if got := h.String(); got != "HMACAuth{key=rela****, secret=c2Vj****}" {
		t.Errorf("String() = %s", got)
	}
}

func TestLoadKeyGethKeystore(t *testing.T) {
	pk, err := gethcrypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    gethcrypto.PubkeyToAddress(pk.PublicKey),
		PrivateKey: pk,
	}, "pw", keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "UTC--keystore.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	k, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil || k != testKey {
		t.Fatalf("keystore key = %q, %v", k, err)
	}
	if _, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "nope"}); err == nil {
		t.Fatal("wrong keystore password accepted")
	}
}

func TestLoadKeyRejectsShortKey(t *testing.T) {
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "0xabcd"}); err == nil {
		t.Fatal("short key accepted")
	}
}
