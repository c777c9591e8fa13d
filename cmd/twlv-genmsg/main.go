package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"twlv/pkg/identity"
	"twlv/pkg/protocol"
)

func main() {
	out := flag.String("out", "", "write the binary frame here; empty prints hex to stdout")
	command := flag.String("command", "chat.msg", "command routing key")
	text := flag.String("text", "hello twlv", "payload text")
	to := flag.String("to", "", "destination address, 20 hex chars; empty is broadcast")
	ttl := flag.Uint("ttl", 8, "hop budget")
	sign := flag.Bool("sign", false, "sign the envelope")
	encrypt := flag.Bool("encrypt", false, "encrypt the payload; forces -to to the recipient key's address")
	keyPath := flag.String("key", "", "sender keyfile; empty generates an ephemeral identity")
	peerPath := flag.String("peer", "", "recipient keyfile for -encrypt; empty generates one")
	flag.Parse()

	sender := loadOrGen(*keyPath)
	msg := &protocol.Message{
		TTL:     uint8(*ttl),
		From:    sender.Address(),
		To:      *to,
		Command: *command,
		Payload: []byte(*text),
	}

	// Encrypt before signing so the signature covers the ciphertext.
	if *encrypt {
		recipient := loadOrGen(*peerPath)
		msg.To = recipient.Address()
		msg.Mode.Set(protocol.ModeEncrypted)
		if err := msg.Encrypt(recipient.Public()); err != nil {
			log.Fatal(err)
		}
		fmt.Fprintf(os.Stderr, "recipient : %s\n", recipient.Address())
	}
	if *sign {
		msg.Mode.Set(protocol.ModeSigned)
		if err := msg.Sign(sender); err != nil {
			log.Fatal(err)
		}
	}

	frame, err := msg.Encode()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintf(os.Stderr, "sender    : %s\n", sender.Address())
	fmt.Fprintf(os.Stderr, "frame     : %d bytes  head: %s\n", len(frame), headHex(frame, 32))

	if *out == "" {
		fmt.Println(hex.EncodeToString(frame))
		return
	}
	if err := os.WriteFile(*out, frame, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "written   : %s\n", *out)
}

func loadOrGen(path string) *identity.Identity {
	if path == "" {
		id, err := identity.Generate()
		if err != nil {
			log.Fatal(err)
		}
		return id
	}
	id, err := identity.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return id
}

func headHex(b []byte, n int) string {
	if n > len(b) {
		n = len(b)
	}
	enc := hex.EncodeToString(b[:n])
	if len(b) > n {
		enc += ".."
	}
	var out []string
	for i := 0; i < len(enc); i += 4 {
		j := i + 4
		if j > len(enc) {
			j = len(enc)
		}
		out = append(out, enc[i:j])
	}
	return strings.Join(out, " ")
}
