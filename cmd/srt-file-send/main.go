// Command srt-file-send transfers one file to a listening SRT peer,
// exercising the core's file-mode transport end to end.
package main

import (
	"flag"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/maxsharabayko/srt"
	"github.com/maxsharabayko/srt/clock"
	"github.com/maxsharabayko/srt/km"
	"github.com/maxsharabayko/srt/packet"
)

func main() {
	laddr := flag.String("laddr", ":0", "local UDP address to bind")
	raddr := flag.String("raddr", "", "remote SRT listener address (host:port)")
	file := flag.String("file", "", "path of the file to send")
	passphrase := flag.String("passphrase", "", "optional shared passphrase (10-79 chars)")
	flag.Parse()

	if *raddr == "" || *file == "" {
		log.Fatal("srt-file-send: -raddr and -file are required")
	}

	pc, err := net.ListenPacket("udp", *laddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	remote, err := net.ResolveUDPAddr("udp", *raddr)
	if err != nil {
		log.Fatalf("resolve %s: %v", *raddr, err)
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

	var kmMgr *km.Manager
	if cfg.Passphrase != "" {
		kmMgr, err = km.NewManager(km.StdCipher{}, km.ModeCTR, cfg.PBKeyLen, cfg.Passphrase, km.DefaultRefreshSchedule())
		if err != nil {
			log.Fatalf("key material: %v", err)
		}
	}

	conn, err := srt.Dial(ep, cfg, remote, kmMgr)
	if err != nil {
		log.Fatalf("dial %s: %v", *raddr, err)
	}
	log.Printf("connected to %s: local=%d remote=%d", *raddr, conn.LocalSockID(), conn.RemoteSockID())

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open %s: %v", *file, err)
	}
	defer f.Close()

	buf := make([]byte, cfg.PayloadSize)
	var msgNo packet.MsgNo
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			for {
				_, serr := conn.Send(chunk, msgNo, packet.PbSolo, true)
				if serr == nil {
					break
				}
				if serr == srt.ErrBufferFull {
					time.Sleep(5 * time.Millisecond)
					continue
				}
				log.Fatalf("send: %v", serr)
			}
			msgNo = msgNo.Incr()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			log.Fatalf("read %s: %v", *file, rerr)
		}
	}

	for !conn.Flushed() {
		time.Sleep(10 * time.Millisecond)
	}
	conn.Shutdown()
	log.Printf("transfer complete")
}
