package km

import "testing"

func TestManagerHandshakeMatchingPassphrase(t *testing.T) {
	sched := DefaultRefreshSchedule()
	sender, err := NewManager(StdCipher{}, ModeCTR, 16, "correct horse battery", sched)
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := NewManager(StdCipher{}, ModeCTR, 16, "correct horse battery", sched)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := sender.GenerateInitial()
	if err != nil {
		t.Fatal(err)
	}
	if err := receiver.Accept(msg, ModeCTR); err != nil {
		t.Fatalf("accept should succeed: %s", err)
	}
	if receiver.State() != StateSecured {
		t.Fatalf("want SECURED, got %s", receiver.State())
	}
}

func TestManagerPassphraseMismatch(t *testing.T) {
	sender, _ := NewManager(StdCipher{}, ModeCTR, 16, "passphrase-aaaaaaaa", DefaultRefreshSchedule())
	receiver, _ := NewManager(StdCipher{}, ModeCTR, 16, "passphrase-bbbbbbbb", DefaultRefreshSchedule())
	msg, err := sender.GenerateInitial()
	if err != nil {
		t.Fatal(err)
	}
	if err := receiver.Accept(msg, ModeCTR); err == nil {
		t.Fatal("expected accept to fail on passphrase mismatch")
	}
	if receiver.State() != StateBadSecret {
		t.Fatalf("want BADSECRET, got %s", receiver.State())
	}
}

func TestManagerCipherModeMismatch(t *testing.T) {
	sender, _ := NewManager(StdCipher{}, ModeGCM, 16, "shared-passphrase-00", DefaultRefreshSchedule())
	receiver, _ := NewManager(StdCipher{}, ModeCTR, 16, "shared-passphrase-00", DefaultRefreshSchedule())
	msg, err := sender.GenerateInitial()
	if err != nil {
		t.Fatal(err)
	}
	if err := receiver.Accept(msg, ModeGCM); err == nil {
		t.Fatal("expected accept to fail on cipher mode mismatch")
	}
	if receiver.State() != StateUnsecured {
		t.Fatalf("want UNSECURED, got %s", receiver.State())
	}
}

func TestManagerRejectsShortPassphrase(t *testing.T) {
	if _, err := NewManager(StdCipher{}, ModeCTR, 16, "short", DefaultRefreshSchedule()); err == nil {
		t.Fatal("expected error for too-short passphrase")
	}
}
