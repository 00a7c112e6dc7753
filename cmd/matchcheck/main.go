package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	appcfg "github.com/park285/netplay-matchmaker/internal/config"
	"github.com/park285/netplay-matchmaker/internal/probe"
	"github.com/park285/netplay-matchmaker/internal/ratingstore"
	"github.com/park285/netplay-matchmaker/internal/wsserver"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
)

func main() {
	// RATING_PLAYER switches to a read-only report against the configured store
	if player := strings.TrimSpace(os.Getenv("RATING_PLAYER")); player != "" {
		if err := ratingReport(player); err != nil {
			log.Fatalf("rating report: %v", err)
		}
		return
	}

	baseURL := os.Getenv("MATCHD_BASE_URL")
	userEmail := os.Getenv("X_USER_EMAIL")
	region := os.Getenv("SEARCH_REGION")

	if baseURL == "" {
		log.Fatal("MATCHD_BASE_URL is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if userEmail != "" {
			m[wsserver.HeaderUserEmail] = userEmail
		}
		return m
	}

	client := probe.NewClient(baseURL,
		probe.WithHeaderProvider(headers),
		probe.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	body, err := client.Health(ctx)
	if err != nil {
		log.Printf("health error: %v", err)
	} else {
		log.Printf("health ok: %q", body)
	}

	wsURL := os.Getenv("MATCHD_WS_URL")
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/"
	}

	s := probe.NewSession(wsURL, headers)
	s.OnFrame(func(f probe.Frame) {
		fmt.Printf("WS %s %s\n", f.Type, f.Data)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := s.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	if region != "" {
		search := matchproto.Search{Region: region, Connection: os.Getenv("SEARCH_CONNECTION")}
		if err := s.Send(cctx, matchproto.KindSearch, search); err != nil {
			log.Printf("search send error: %v", err)
		}
	}

	// Observe for a short window
	select {
	case <-time.After(10 * time.Second):
	case <-s.Done():
		log.Printf("WS closed: %v", s.Err())
	}
	_ = s.Close()
}

func ratingReport(player string) error {
	cfg, err := appcfg.Load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := ratingstore.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return probe.WriteRatingReport(ctx, os.Stdout, st, player, 20)
}
