package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/freekieb7/harbor/http"
)

// A minimal embedding: one application function, no router.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hello := http.ApplicationFunc(func(env *http.Environ, start *http.StartResponse) (http.Iterable, error) {
		body := []byte("hello world\n")
		if _, err := start.Start("200 OK", []http.Header{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		}, nil); err != nil {
			return nil, err
		}
		return http.NewChunks(body), nil
	})

	s, err := http.NewServer(ctx, "hello", hello, http.Config{Addr: "0.0.0.0:8080", Workers: 4})
	if err != nil {
		log.Fatal(err)
	}

	log.Fatal(s.Serve(ctx))
}
