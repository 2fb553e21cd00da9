package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/energizer-project/chatforwarder/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration and collects errors and warnings.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateNetwork(&cfg.Network, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	if strings.TrimSpace(n.ServerIP) == "" {
		result.AddError("network.server_ip", "server address is required")
	}

	validatePort(n.SendPort, "network.send_port", result)
	validatePort(n.ListenPort, "network.listen_port", result)

	if n.SendPort == n.ListenPort && isLoopback(n.ServerIP) {
		result.AddWarning("network.listen_port",
			fmt.Sprintf("send and listen port are both %d on a loopback target, commands will be echoed back", n.SendPort))
	}

	for _, entry := range n.ShowTypes {
		tag, err := protocol.ParseTag(entry)
		if err != nil {
			result.AddError("network.show_types", err.Error())
			continue
		}
		if !tag.Known() {
			result.AddWarning("network.show_types",
				fmt.Sprintf("tag %s has no label and will render as %s (labelled tags: %s)",
					tag, tag.Label(), knownTagList()))
		}
	}

	if n.ReceiveTimeoutMS < 50 {
		result.AddError("network.receive_timeout_ms", "receive timeout must be at least 50ms")
	} else if n.ReceiveTimeoutMS > 5000 {
		result.AddWarning("network.receive_timeout_ms",
			"receive timeout above 5s delays shutdown")
	}

	if n.ReceiveBufferSize < 64 {
		result.AddError("network.receive_buffer_size", "receive buffer must be at least 64 bytes")
	}

	if n.SendIntervalMS < 0 {
		result.AddError("network.send_interval_ms", "send interval cannot be negative")
	}

	if n.ShutdownGraceMS < n.ReceiveTimeoutMS {
		result.AddWarning("network.shutdown_grace_ms",
			"shutdown grace is shorter than the receive timeout, the listener may not stop in time")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if strings.TrimSpace(data.MQTT.TopicPrefix) == "" {
			result.AddWarning("application_data.mqtt.topic_prefix", "empty topic prefix, publishing at topic root")
		}
	}

	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		bind := strings.TrimSpace(data.API.BindAddress)
		if bind != "" && !isLoopback(bind) && net.ParseIP(bind) == nil {
			result.AddError("application_data.api.bind_address", fmt.Sprintf("invalid bind address: %s", bind))
		} else if !isLoopback(bind) {
			result.AddWarning("application_data.api.bind_address",
				"monitor API is reachable from the network and has no authentication, POST /api/send can reach the game")
		}
		if data.API.UseTLS && (strings.TrimSpace(data.API.CertFile) == "" || strings.TrimSpace(data.API.KeyFile) == "") {
			result.AddError("application_data.api.cert_file", "certificate and key paths are required when TLS is enabled")
		}
		for _, origin := range data.API.AllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				result.AddWarning("application_data.api.allowed_origins",
					"any web page can call the monitor API")
			}
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS)")
		}
		if data.API.HistorySize < 1 {
			result.AddError("application_data.api.history_size", "history size must be at least 1")
		}
	}

	if data.Logging.StatsIntervalMin < 0 {
		result.AddError("application_data.logging.stats_interval_min", "stats interval cannot be negative")
	}

	if data.Transcript.Enabled {
		if strings.TrimSpace(data.Transcript.Path) == "" {
			result.AddError("application_data.transcript.path", "transcript path is required when enabled")
		}
		if data.Transcript.RetentionDays < 0 {
			result.AddError("application_data.transcript.retention_days", "retention cannot be negative")
		}
		if _, err := time.Parse("15:04", data.Transcript.CleanupTime); data.Transcript.RetentionDays > 0 && err != nil {
			result.AddError("application_data.transcript.cleanup_time", "cleanup time must be HH:MM")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func knownTagList() string {
	tags := protocol.KnownTags()
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.String())
	}
	return strings.Join(names, ", ")
}
