package mem

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"twlv/pkg/transport"
)

func TestDialAcceptExchange(t *testing.T) {
	tr := NewWithBoard(NewBoard())
	ctx := context.Background()

	l, err := tr.Listen(ctx, "node-a")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	cli, err := tr.Dial(ctx, "node-a")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	srv, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	srvErr := make(chan error, 1)
	go func() {
		msg, err := srv.Recv()
		if err != nil {
			srvErr <- err
			return
		}
		srvErr <- srv.Send(append([]byte("re: "), msg...))
	}()

	if err := cli.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := cli.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !bytes.Equal(got, []byte("re: ping")) {
		t.Fatalf("Recv = %q", got)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestDialUnknownListener(t *testing.T) {
	tr := NewWithBoard(NewBoard())
	if _, err := tr.Dial(context.Background(), "nobody"); err == nil {
		t.Fatal("Dial to unknown name succeeded")
	}
}

func TestListenDuplicateName(t *testing.T) {
	tr := NewWithBoard(NewBoard())
	ctx := context.Background()
	l, err := tr.Listen(ctx, "node-a")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	if _, err := tr.Listen(ctx, "node-a"); err == nil {
		t.Fatal("duplicate Listen succeeded")
	}
}

func TestCloseFreesName(t *testing.T) {
	tr := NewWithBoard(NewBoard())
	ctx := context.Background()
	l, err := tr.Listen(ctx, "node-a")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tr.Dial(ctx, "node-a"); err == nil {
		t.Fatal("Dial to closed listener succeeded")
	}
	l2, err := tr.Listen(ctx, "node-a")
	if err != nil {
		t.Fatalf("Listen after Close: %v", err)
	}
	_ = l2.Close()
}

func TestAcceptUnblocks(t *testing.T) {
	tr := NewWithBoard(NewBoard())
	l, err := tr.Listen(context.Background(), "node-a")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Accept err = %v, want deadline exceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = l.Close()
	}()
	if _, err := l.Accept(context.Background()); !errors.Is(err, transport.ErrListenerClosed) {
		t.Fatalf("Accept err = %v, want ErrListenerClosed", err)
	}
}
