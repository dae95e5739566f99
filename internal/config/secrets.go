package config

import (
	"net/url"
	"regexp"

	"gopkg.in/yaml.v3"
)

// secretKeyPattern matches mapping keys whose values are credentials.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|pass$|api_key|credential)`)

// Secrets returns the credential values found in cfg: the redis password,
// the password of the NATS URL, the notify secret, and every scalar under
// a secret-looking key in the gateway and job config sections.
func Secrets(cfg *Config) []string {
	var out []string
	if cfg.Locks.Redis.Password != "" {
		out = append(out, cfg.Locks.Redis.Password)
	}
	if u, err := url.Parse(cfg.Locks.NATS.URL); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok && pw != "" {
			out = append(out, pw)
		}
	}
	if cfg.Notify.Secret != "" {
		out = append(out, cfg.Notify.Secret)
	}
	out = nodeSecrets(&cfg.Gateway, out)
	for i := range cfg.Jobs {
		out = nodeSecrets(&cfg.Jobs[i].Config, out)
	}
	return out
}

func nodeSecrets(n *yaml.Node, out []string) []string {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			out = nodeSecrets(c, out)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if val.Kind == yaml.ScalarNode && secretKeyPattern.MatchString(key.Value) {
				if val.Value != "" {
					out = append(out, val.Value)
				}
				continue
			}
			out = nodeSecrets(val, out)
		}
	}
	return out
}
