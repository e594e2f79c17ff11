package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseYAML reads the two-level section/key mapping config.yaml uses.
// It is intentionally not a general YAML parser: unknown sections or keys
// are errors, which catches config typos at startup instead of silently
// running on defaults.
func parseYAML(r io.Reader, cfg *Config) error {
	type section int
	const (
		none section = iota
		db
		rm
		au
		sv
		sim
		geo
	)

	scanner := bufio.NewScanner(r)
	var cur section

	lineNo := 0
	seenTop := map[section]bool{}

	markTop := func(s section, name string) error {
		if seenTop[s] {
			return fmt.Errorf("line %d: duplicate %q section", lineNo, name)
		}
		seenTop[s] = true
		cur = s
		return nil
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		// a # starts a comment anywhere on the line
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}

		line := strings.TrimRight(raw, " \t\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// unindented lines open a section
		if len(line) > 0 && (line[0] != ' ' && line[0] != '\t') {
			name := strings.TrimSpace(line)
			var err error
			switch name {
			case "database:":
				err = markTop(db, "database")
			case "rabbitmq:":
				err = markTop(rm, "rabbitmq")
			case "auth:":
				err = markTop(au, "auth")
			case "services:":
				err = markTop(sv, "services")
			case "simulator:":
				err = markTop(sim, "simulator")
			case "geocoding:":
				err = markTop(geo, "geocoding")
			default:
				return fmt.Errorf("line %d: unknown top-level key %q", lineNo, strings.TrimSuffix(name, ":"))
			}
			if err != nil {
				return err
			}
			continue
		}

		// everything else must be an indented "key: value" pair
		if cur == none {
			return fmt.Errorf("line %d: key without a section", lineNo)
		}
		trim := strings.TrimSpace(line)
		colon := strings.IndexByte(trim, ':')
		if colon <= 0 {
			return fmt.Errorf("line %d: expected 'key: value'", lineNo)
		}
		key := strings.TrimSpace(trim[:colon])
		val := strings.TrimLeft(strings.TrimSpace(trim[colon+1:]), " \t")

		atoi := func(section string) (int, error) {
			p, err := strconv.Atoi(resolveScalar(val))
			if err != nil {
				return 0, fmt.Errorf("line %d: %s.%s must be int: %v", lineNo, section, key, err)
			}
			return p, nil
		}

		switch cur {
		case db:
			switch key {
			case "host":
				cfg.Database.Host = resolveScalar(val)
			case "port":
				p, err := atoi("database")
				if err != nil {
					return err
				}
				cfg.Database.Port = p
			case "user":
				cfg.Database.User = resolveScalar(val)
			case "password":
				cfg.Database.Password = resolveScalar(val)
			case "database":
				cfg.Database.Name = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in database: %q", lineNo, key)
			}
		case rm:
			switch key {
			case "host":
				cfg.RabbitMQ.Host = resolveScalar(val)
			case "port":
				p, err := atoi("rabbitmq")
				if err != nil {
					return err
				}
				cfg.RabbitMQ.Port = p
			case "user":
				cfg.RabbitMQ.User = resolveScalar(val)
			case "password":
				cfg.RabbitMQ.Password = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in rabbitmq: %q", lineNo, key)
			}
		case au:
			switch key {
			case "private_key_path":
				cfg.Auth.PrivateKeyPath = resolveScalar(val)
			case "public_key_path":
				cfg.Auth.PublicKeyPath = resolveScalar(val)
			case "issuer":
				cfg.Auth.Issuer = resolveScalar(val)
			case "audience":
				cfg.Auth.Audience = resolveScalar(val)
			case "access_ttl_seconds":
				p, err := atoi("auth")
				if err != nil {
					return err
				}
				cfg.Auth.AccessTTLSeconds = p
			case "refresh_ttl_seconds":
				p, err := atoi("auth")
				if err != nil {
					return err
				}
				cfg.Auth.RefreshTTLSeconds = p
			default:
				return fmt.Errorf("line %d: unknown key in auth: %q", lineNo, key)
			}
		case sv:
			switch key {
			case "order_service":
				p, err := atoi("services")
				if err != nil {
					return err
				}
				cfg.Services.OrderServicePort = p
			case "simulator_service":
				p, err := atoi("services")
				if err != nil {
					return err
				}
				cfg.Services.SimulatorServicePort = p
			case "tracking_service":
				p, err := atoi("services")
				if err != nil {
					return err
				}
				cfg.Services.TrackingServicePort = p
			case "simulator_url":
				cfg.Services.SimulatorURL = resolveScalar(val)
			case "tracking_url":
				cfg.Services.TrackingURL = resolveScalar(val)
			default:
				return fmt.Errorf("line %d: unknown key in services: %q", lineNo, key)
			}
		case sim:
			switch key {
			case "flight_duration_seconds":
				p, err := atoi("simulator")
				if err != nil {
					return err
				}
				cfg.Simulator.FlightDurationSeconds = p
			case "tick_interval_seconds":
				p, err := atoi("simulator")
				if err != nil {
					return err
				}
				cfg.Simulator.TickIntervalSeconds = p
			default:
				return fmt.Errorf("line %d: unknown key in simulator: %q", lineNo, key)
			}
		case geo:
			switch key {
			case "base_url":
				cfg.Geocoding.BaseURL = resolveScalar(val)
			case "cache_ttl_seconds":
				p, err := atoi("geocoding")
				if err != nil {
					return err
				}
				cfg.Geocoding.CacheTTLSeconds = p
			default:
				return fmt.Errorf("line %d: unknown key in geocoding: %q", lineNo, key)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return nil
}

// resolveScalar strips surrounding single or double quotes so quoted and
// bare scalars read the same.
func resolveScalar(s string) string {
	s = strings.TrimSpace(s)

	n := len(s)
	if n >= 2 {
		if (s[0] == '"' && s[n-1] == '"') || (s[0] == '\'' && s[n-1] == '\'') {
			if unq, err := strconv.Unquote(s); err == nil {
				return unq
			}
			// Unquote chokes on single quotes; drop them manually
			return s[1 : n-1]
		}
	}

	return s
}
