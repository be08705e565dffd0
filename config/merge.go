package config

// mergeConfigs merges override configuration into base
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Version != "" {
		result.Version = override.Version
	}

	result.API = mergeAPI(result.API, override.API)
	result.Realtime = mergeRealtime(result.Realtime, override.Realtime)
	result.Avatar = mergeAvatar(result.Avatar, override.Avatar)
	result.Session = mergeSession(result.Session, override.Session)

	// Merge extensions
	if override.Extensions != nil {
		merged := make(map[string]interface{}, len(result.Extensions)+len(override.Extensions))
		for key, value := range result.Extensions {
			merged[key] = value
		}
		for key, value := range override.Extensions {
			// If both base and override have the same extension key, merge them
			if baseMap, ok := merged[key].(map[string]interface{}); ok {
				if overrideMap, ok := value.(map[string]interface{}); ok {
					mergedMap := make(map[string]interface{}, len(baseMap)+len(overrideMap))
					for k, v := range baseMap {
						mergedMap[k] = v
					}
					for k, v := range overrideMap {
						mergedMap[k] = v
					}
					merged[key] = mergedMap
					continue
				}
			}
			// Otherwise just replace
			merged[key] = value
		}
		result.Extensions = merged
	}

	return &result
}

func mergeAPI(base, override APIConfig) APIConfig {
	result := base

	if override.BaseURL != "" {
		result.BaseURL = override.BaseURL
	}
	if override.AccountsPath != "" {
		result.AccountsPath = override.AccountsPath
	}
	if override.MessagingPath != "" {
		result.MessagingPath = override.MessagingPath
	}
	if override.ProfilePath != "" {
		result.ProfilePath = override.ProfilePath
	}
	if override.Timeout != "" {
		result.Timeout = override.Timeout
	}

	return result
}

func mergeRealtime(base, override RealtimeConfig) RealtimeConfig {
	result := base

	if override.URL != "" {
		result.URL = override.URL
	}
	if override.ReconnectDelay != "" {
		result.ReconnectDelay = override.ReconnectDelay
	}
	if override.PingInterval != "" {
		result.PingInterval = override.PingInterval
	}

	return result
}

func mergeAvatar(base, override AvatarConfig) AvatarConfig {
	result := base

	if override.Origin != "" {
		result.Origin = override.Origin
	}
	if override.DeprecatedHosts != nil {
		result.DeprecatedHosts = override.DeprecatedHosts
	}
	if override.ThumbnailSize != 0 {
		result.ThumbnailSize = override.ThumbnailSize
	}

	return result
}

func mergeSession(base, override SessionConfig) SessionConfig {
	result := base

	if override.Path != "" {
		result.Path = override.Path
	}
	if override.Watch != nil {
		result.Watch = override.Watch
	}

	return result
}
