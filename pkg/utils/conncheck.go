package utils

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/mpapenbr/forza-session-recorder/log"
)

const defaultNatsPort = "4222"

// WaitForTCP tries to connect to addr until it succeeds, timeout is reached
// or ctx is done.
func WaitForTCP(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	log.Debug("wait for tcp connection",
		log.String("addr", addr),
		log.String("timeout", timeout.String()))
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			log.Debug("tcp connection successful",
				log.String("addr", addr),
				log.String("duration", time.Since(start).String()))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s could not be reached after %v", addr, timeout)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// ExtractFromNatsURL returns the host:port pairs of a NATS server list like
// "nats://user:pw@host1:4223, tls://host2". Entries without port get 4222.
func ExtractFromNatsURL(urls string) []string {
	ret := []string{}
	for _, u := range strings.Split(urls, ",") {
		param := resolveRegex(
			`^((?P<proto>nats|tls|ws|wss)://)?(.*@)?(?P<addr>(?P<host>[^:/]+)(:(?P<port>\d+))?)/?$`,
			strings.TrimSpace(u))
		if param["host"] == "" {
			continue
		}
		if param["port"] != "" {
			ret = append(ret, param["addr"])
		} else {
			ret = append(ret, net.JoinHostPort(param["host"], defaultNatsPort))
		}
	}
	return ret
}

func resolveRegex(regEx, url string) (paramsMap map[string]string) {
	compRegEx := regexp.MustCompile(regEx)
	match := compRegEx.FindStringSubmatch(url)

	paramsMap = make(map[string]string)
	for i, name := range compRegEx.SubexpNames() {
		if i > 0 && i < len(match) {
			paramsMap[name] = match[i]
		}
	}
	return paramsMap
}
