package packet

import "testing"

func TestSeqNoWrap(t *testing.T) {
	s := SeqNo(MaxSeqNo)
	next := s.Incr()
	if next != 0 {
		t.Fatalf("expected wrap to 0, got %d", next)
	}
	if !next.After(s) {
		t.Fatalf("expected %d to be after %d across the wrap", next, s)
	}
}

func TestSeqNoDiffSign(t *testing.T) {
	a := SeqNo(10)
	b := SeqNo(5)
	if a.Diff(b) != 5 {
		t.Fatalf("diff(10,5) = %d, want 5", a.Diff(b))
	}
	if b.Diff(a) != -5 {
		t.Fatalf("diff(5,10) = %d, want -5", b.Diff(a))
	}
}

func TestSeqNoAfterAcrossWrap(t *testing.T) {
	before := SeqNo(seqNoMask - 2)
	after := before.Add(5)
	if !after.After(before) {
		t.Fatalf("expected %d after %d across wrap", after, before)
	}
}

func TestSeqNoLen(t *testing.T) {
	if (SeqNo(1000)).Len(1004) != 5 {
		t.Fatalf("want len 5")
	}
	if (SeqNo(1004)).Len(1000) != 0 {
		t.Fatalf("want len 0 for reversed range")
	}
}

func TestMsgNoWrap(t *testing.T) {
	m := MsgNo(msgNoMask)
	if m.Incr() != 0 {
		t.Fatalf("expected msgno wrap to 0")
	}
}
