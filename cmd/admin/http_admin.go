package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/status"
	do(http.MethodGet, u, 5*time.Second)
}

func reloadCmd(args []string) {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/providers/reload"
	do(http.MethodPost, u, 10*time.Second)
}

func protectCmd(args []string) {
	fs := flag.NewFlagSet("protect", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	world := fs.String("world", "world", "world name")
	at := fs.String("at", "", "block position x,y,z (required)")
	action := fs.String("action", "EXPLODE", "EXPLODE|BUILD|BREAK")
	actor := fs.String("actor", "", "actor uuid (empty = environment)")
	_ = fs.Parse(args)

	pos, err := parseVec3(*at)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -at:", err)
		os.Exit(2)
	}
	v := url.Values{}
	v.Set("world", *world)
	v.Set("x", strconv.Itoa(pos[0]))
	v.Set("y", strconv.Itoa(pos[1]))
	v.Set("z", strconv.Itoa(pos[2]))
	v.Set("action", *action)
	if *actor != "" {
		v.Set("actor", *actor)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/protection?" + v.Encode()
	do(http.MethodGet, u, 5*time.Second)
}

func do(method, u string, timeout time.Duration) {
	req, _ := http.NewRequest(method, u, nil)
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
