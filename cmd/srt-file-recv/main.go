// Command srt-file-recv accepts one SRT connection and writes whatever it
// sends to a local file.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"time"

	"github.com/maxsharabayko/srt"
	"github.com/maxsharabayko/srt/clock"
	"github.com/maxsharabayko/srt/km"
)

func main() {
	laddr := flag.String("laddr", ":9000", "local UDP address to listen on")
	out := flag.String("out", "", "path to write the received file")
	passphrase := flag.String("passphrase", "", "optional shared passphrase (10-79 chars)")
	flag.Parse()

	if *out == "" {
		log.Fatal("srt-file-recv: -out is required")
	}

	pc, err := net.ListenPacket("udp", *laddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	cfg := srt.DefaultConfig()
	cfg.TransType = srt.TransFile
	cfg.Congestion = srt.CongestionFile
	cfg.TsbPdMode = false
	cfg.TooLatePktDrop = false
	if *passphrase != "" {
		cfg.Passphrase = *passphrase
		cfg.CryptoMode = srt.CryptoCTR
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ep := srt.NewEndpoint(pc, cfg, clock.SystemClock{})
	defer ep.Close()

	var kmFactory func() (*km.Manager, error)
	if cfg.Passphrase != "" {
		kmFactory = func() (*km.Manager, error) {
			return km.NewManager(km.StdCipher{}, km.ModeCTR, cfg.PBKeyLen, cfg.Passphrase, km.DefaultRefreshSchedule())
		}
	}

	listener := srt.Listen(ep, cfg, uint64(time.Now().UnixNano()), kmFactory, func(peer []byte, streamID string) srt.AcceptDecision {
		return srt.AcceptDecision{Accept: true}
	})
	defer listener.Close()

	log.Printf("listening on %s", *laddr)
	conn, err := listener.Accept()
	if err != nil {
		log.Fatalf("accept: %v", err)
	}
	log.Printf("accepted: local=%d remote=%d", conn.LocalSockID(), conn.RemoteSockID())

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	for {
		if msg, ok := conn.ReadMessage(); ok {
			if _, werr := f.Write(msg); werr != nil {
				log.Fatalf("write: %v", werr)
			}
			continue
		}
		if s := conn.State(); s == srt.StateBroken || s == srt.StateClosed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	log.Printf("transfer complete")
}
