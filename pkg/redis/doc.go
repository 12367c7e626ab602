// Package redis connects to Redis through github.com/redis/go-redis/v9.
//
// Connect retries until the server answers a PING, which lets the service start
// alongside its Redis container. Healthcheck plugs the client into the readiness endpoint.
// Config is read from the environment with the pkg/config loader; KeyPrefix namespaces
// the keys written by this service.
package redis
