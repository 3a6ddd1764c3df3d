// Package network implements bubble's per-container egress allowlist,
// grounded on original_source/bubble/network.py and spec.md §4.6.
package network

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kim-em/bubble/internal/runtime"
)

var domainRe = regexp.MustCompile(`^[A-Za-z0-9.*-]+$`)

// VSCodeDomains are always appended to the configured allowlist before
// application (spec.md §4.6 "hidden contract").
var VSCodeDomains = []string{
	"marketplace.visualstudio.com",
	"*.gallery.vsassets.io",
	"update.code.visualstudio.com",
	"*.vo.msecnd.net",
}

// ValidateDomains rejects any entry that doesn't match the allowlist
// domain grammar, preventing shell injection into the generated script.
func ValidateDomains(domains []string) error {
	for _, d := range domains {
		if !domainRe.MatchString(d) {
			return fmt.Errorf("invalid domain in allowlist: %q", d)
		}
	}
	return nil
}

// Apply installs an egress allowlist inside container restricting
// outbound traffic to domains (plus VSCodeDomains, always appended).
func Apply(ctx context.Context, rt runtime.ContainerRuntime, container string, domains []string) error {
	all := append(append([]string{}, domains...), VSCodeDomains...)
	if err := ValidateDomains(all); err != nil {
		return err
	}
	script := buildAllowlistScript(all)
	_, err := rt.Exec(ctx, container, []string{"bash", "-c", script})
	return err
}

// Remove flushes OUTPUT rules on both iptables tables and restores
// policy ACCEPT.
func Remove(ctx context.Context, rt runtime.ContainerRuntime, container string) error {
	script := "iptables -F OUTPUT 2>/dev/null; iptables -P OUTPUT ACCEPT 2>/dev/null; " +
		"ip6tables -F OUTPUT 2>/dev/null; ip6tables -P OUTPUT ACCEPT 2>/dev/null; true"
	_, err := rt.Exec(ctx, container, []string{"bash", "-c", script})
	return err
}

// IsActive reports whether the IPv4 OUTPUT chain currently has a DROP
// rule (i.e. whether an allowlist is installed).
func IsActive(ctx context.Context, rt runtime.ContainerRuntime, container string) bool {
	out, err := rt.Exec(ctx, container, []string{"bash", "-c",
		"iptables -L OUTPUT -n 2>/dev/null | grep -c DROP || echo 0"})
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false
	}
	return n > 0
}

func buildAllowlistScript(domains []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -e\n\n")

	b.WriteString("# IPv6: block entirely\n")
	b.WriteString("ip6tables -F OUTPUT 2>/dev/null || true\n")
	b.WriteString("ip6tables -A OUTPUT -o lo -j ACCEPT\n")
	b.WriteString("ip6tables -P OUTPUT DROP\n\n")

	b.WriteString("# IPv4\n")
	b.WriteString("iptables -P OUTPUT ACCEPT\n")
	b.WriteString("iptables -F OUTPUT 2>/dev/null || true\n\n")
	b.WriteString("iptables -A OUTPUT -o lo -j ACCEPT\n\n")
	b.WriteString("iptables -A OUTPUT -m state --state ESTABLISHED,RELATED -j ACCEPT\n\n")

	b.WriteString("RESOLVER=$(grep -m1 nameserver /etc/resolv.conf | awk '{print $2}')\n")
	b.WriteString("if [ -n \"$RESOLVER\" ]; then\n")
	b.WriteString("  iptables -A OUTPUT -d $RESOLVER -p udp --dport 53 -j ACCEPT\n")
	b.WriteString("  iptables -A OUTPUT -d $RESOLVER -p tcp --dport 53 -j ACCEPT\n")
	b.WriteString("fi\n\n")

	b.WriteString("for UPSTREAM in $(resolvectl dns 2>/dev/null | awk -F: '{print $2}' | grep -oE '[0-9]+\\.[0-9]+\\.[0-9]+\\.[0-9]+'); do\n")
	b.WriteString("  iptables -A OUTPUT -d $UPSTREAM -p udp --dport 53 -j ACCEPT\n")
	b.WriteString("  iptables -A OUTPUT -d $UPSTREAM -p tcp --dport 53 -j ACCEPT\n")
	b.WriteString("done\n\n")

	for _, domain := range domains {
		if strings.HasPrefix(domain, "*.") {
			base := domain[2:]
			fmt.Fprintf(&b, "IPS=$(getent ahostsv4 %s 2>/dev/null | awk '{print $1}' | sort -u)\n", base)
			b.WriteString("if [ -z \"$IPS\" ]; then\n")
			fmt.Fprintf(&b, "  echo \"Warning: wildcard domain %s did not resolve. Use explicit subdomains instead.\" >&2\n", domain)
			b.WriteString("else\n")
			b.WriteString("  for ip in $IPS; do\n")
			b.WriteString("    iptables -A OUTPUT -d $ip -j ACCEPT\n")
			b.WriteString("  done\n")
			b.WriteString("fi\n")
		} else {
			fmt.Fprintf(&b, "for ip in $(getent ahostsv4 %s 2>/dev/null | awk '{print $1}' | sort -u); do\n", domain)
			b.WriteString("  iptables -A OUTPUT -d $ip -j ACCEPT\n")
			b.WriteString("done\n")
		}
	}

	b.WriteString("\niptables -P OUTPUT DROP\n\n")
	b.WriteString("echo 'Network allowlist applied.'\n")
	return b.String()
}
