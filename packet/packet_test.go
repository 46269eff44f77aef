package packet

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	buf := make([]byte, 1500)
	n, err := p.WriteTo(buf)
	if err != nil {
		t.Fatalf("WriteTo: %s", err)
	}
	p2, err := Decode(buf[0:n])
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if !reflect.DeepEqual(p, p2) {
		t.Fatalf("round trip mismatch\n wrote: %#v\n read:  %#v", p, p2)
	}
	return p2
}

func TestDataPacketRoundTrip(t *testing.T) {
	dp := &DataPacket{
		Seq:        1234,
		Boundary:   PbSolo,
		InOrder:    true,
		Encrypt:    EkEven,
		Retransmit: false,
		MsgNo:      42,
		Data:       []byte("hello world"),
	}
	dp.SetHeader(99, 1000)
	roundTrip(t, dp)
}

func TestHandshakeRoundTripV5(t *testing.T) {
	hp := &HandshakePacket{
		Version:        5,
		EncryptionField: 2,
		ExtensionField:  3,
		InitSeq:        777,
		MSS:            1500,
		FlowWindowSize: 8192,
		ReqType:        HsConclusion,
		SockID:         55,
		Cookie:         0xdeadbeef,
		Extensions: []Extension{
			{Type: ExtStreamID, Body: PadStreamID("#!::m=request,r=live")},
		},
	}
	hp.PeerIP[0] = 127
	hp.PeerIP[1] = 0
	hp.PeerIP[2] = 0
	hp.PeerIP[3] = 1
	hp.SetHeader(10, 2000)
	roundTrip(t, hp)
}

func TestHandshakeRejectRoundTrip(t *testing.T) {
	for _, reason := range []RejectReason{RejBadSecret, RejUnsecure, RejTimeout} {
		encoded := EncodeReject(reason)
		got, ok := DecodeReject(encoded)
		if !ok || got != reason {
			t.Fatalf("reject round trip failed for %v: got %v ok=%v", reason, got, ok)
		}
	}
}

func TestAckRoundTrip(t *testing.T) {
	ap := &AckPacket{
		AckSeqNo:     5,
		NextExpected: 2000,
		RTT:          1000,
		RTTVar:       200,
		AvailBufPkts: 64,
		HasRates:     true,
		PktRecvRate:  500,
		EstLinkCap:   1000,
		RecvRateBps:  125000,
	}
	ap.SetHeader(1, 10)
	roundTrip(t, ap)
}

func TestLightAckRoundTrip(t *testing.T) {
	lp := &LightAckPacket{NextExpected: 55}
	lp.SetHeader(1, 10)
	roundTrip(t, lp)
}

func TestNakRangeRoundTrip(t *testing.T) {
	ranges := [][2]SeqNo{{10, 10}, {20, 25}, {100, 100}}
	encoded := EncodeLossRanges(ranges)
	decoded, err := DecodeLossRanges(encoded)
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	if !reflect.DeepEqual(ranges, decoded) {
		t.Fatalf("loss ranges mismatch: got %v want %v", decoded, ranges)
	}

	np := &NakPacket{CompressedLoss: encoded}
	np.SetHeader(3, 44)
	roundTrip(t, np)
}

func TestDropReqRoundTrip(t *testing.T) {
	dr := &DropReqPacket{MsgNo: 9, FirstSeq: 100, LastSeq: 104}
	dr.SetHeader(2, 5)
	roundTrip(t, dr)
}

func TestKeepAliveShutdownRoundTrip(t *testing.T) {
	ka := &KeepAlivePacket{}
	ka.SetHeader(1, 1)
	roundTrip(t, ka)

	sd := &ShutdownPacket{}
	sd.SetHeader(1, 1)
	roundTrip(t, sd)
}

func TestKMMessageRoundTrip(t *testing.T) {
	m := &KMMessage{
		Version:    1,
		PktType:    2,
		KeyFlags:   KeyFlagEven,
		KEKI:       0,
		Cipher:     2,
		Auth:       0,
		SE:         2,
		Salt:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
		WrappedSEK: make([]byte, 24),
	}
	data := m.Encode()
	got, err := DecodeKMMessage(data)
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	if !reflect.DeepEqual(m, got) {
		t.Fatalf("km round trip mismatch\n want %#v\n got  %#v", m, got)
	}
}
