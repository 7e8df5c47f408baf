package httpclient

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ProxyRotator holds a list of proxy addresses and rotates through them
// in round-robin fashion, ported from the teacher's proxy.ProxyManager.
// Wiring a proxy into a Factory is an optional egress knob: no component
// in this engine requires one, but an operator running from a
// rate-limited vantage point can point Factory.proxy at the rotator's
// output.
//
// Thread-safety: a sync.Mutex serialises all mutations of index.
type ProxyRotator struct {
	proxies []string
	index   int
	mutex   sync.Mutex
}

// LoadProxies reads a newline-delimited list of proxy addresses from
// filename. Lines that are blank or begin with '#' are ignored. Replaces
// any previously loaded proxies.
func (pr *ProxyRotator) LoadProxies(filename string) error {
	f, err := os.Open(filename) // #nosec G304 -- filename is an operator-supplied config path
	if err != nil {
		return fmt.Errorf("httpclient: open proxy file %q: %w", filename, err)
	}
	defer f.Close()

	var loaded []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		loaded = append(loaded, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("httpclient: read proxy file %q: %w", filename, err)
	}

	pr.mutex.Lock()
	pr.proxies = loaded
	pr.index = 0
	pr.mutex.Unlock()
	return nil
}

// Next returns the next proxy in the rotation and advances the internal
// index. If no proxies are loaded it returns "", signalling the caller
// to make a direct connection.
func (pr *ProxyRotator) Next() string {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	if len(pr.proxies) == 0 {
		return ""
	}
	p := pr.proxies[pr.index]
	pr.index = (pr.index + 1) % len(pr.proxies)
	return p
}

// Count returns the number of loaded proxies.
func (pr *ProxyRotator) Count() int {
	pr.mutex.Lock()
	n := len(pr.proxies)
	pr.mutex.Unlock()
	return n
}
