package packet

import "errors"

// NakPacket reports missing sequences to the sender. Each entry is either
// a single sequence (high bit clear) or the opening of a range (high bit
// set) immediately followed by the closing sequence (high bit clear).
type NakPacket struct {
	header
	CompressedLoss []uint32
}

func (p *NakPacket) IsControl() bool { return true }

func (p *NakPacket) WriteTo(buf []byte) (int, error) {
	n, err := p.writeCtrlHdr(buf, CtrlNak, 0, 0)
	if err != nil {
		return 0, err
	}
	need := 4 * len(p.CompressedLoss)
	if len(buf) < n+need {
		return 0, errors.New("packet: nak body does not fit")
	}
	for _, v := range p.CompressedLoss {
		endianness.PutUint32(buf[n:n+4], v)
		n += 4
	}
	return n, nil
}

func (p *NakPacket) readFrom(data []byte) error {
	if _, _, err := p.readCtrlHdr(data); err != nil {
		return err
	}
	body := data[16:]
	if len(body)%4 != 0 {
		return errors.New("packet: nak body not a multiple of 4")
	}
	n := len(body) / 4
	p.CompressedLoss = make([]uint32, n)
	for i := 0; i < n; i++ {
		p.CompressedLoss[i] = endianness.Uint32(body[i*4 : i*4+4])
	}
	return nil
}

// EncodeLossRanges compresses a list of ascending, disjoint [from,to]
// ranges into the NAK wire format.
func EncodeLossRanges(ranges [][2]SeqNo) []uint32 {
	out := make([]uint32, 0, len(ranges)*2)
	for _, r := range ranges {
		if r[0] == r[1] {
			out = append(out, uint32(r[0])&seqNoMask)
		} else {
			out = append(out, (uint32(r[0])&seqNoMask)|flagBit32, uint32(r[1])&seqNoMask)
		}
	}
	return out
}

// DecodeLossRanges expands the NAK wire format back into ascending ranges.
func DecodeLossRanges(entries []uint32) ([][2]SeqNo, error) {
	var out [][2]SeqNo
	for i := 0; i < len(entries); i++ {
		v := entries[i]
		if v&flagBit32 != 0 {
			first := SeqNo(v &^ flagBit32)
			if i+1 >= len(entries) {
				return nil, errors.New("packet: nak range missing closing sequence")
			}
			i++
			last := entries[i]
			if last&flagBit32 != 0 {
				return nil, errors.New("packet: nak range closed by another range start")
			}
			out = append(out, [2]SeqNo{first, SeqNo(last)})
		} else {
			out = append(out, [2]SeqNo{SeqNo(v), SeqNo(v)})
		}
	}
	return out, nil
}
