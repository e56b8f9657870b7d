// Package guide renders the onboarding instructions handed to users when
// they register a server for monitoring.
package guide

import "fmt"

// Generator fills the setup guide template with deployment specifics.
type Generator struct {
	gatewayURL     string
	forwarderImage string
}

// New creates a guide generator. gatewayURL is the public base URL of this
// gateway; forwarderImage is the collector image users run next to their app.
func New(gatewayURL, forwarderImage string) *Generator {
	return &Generator{gatewayURL: gatewayURL, forwarderImage: forwarderImage}
}

// Render produces the markdown setup guide for a registered server. Blank
// arguments fall back to placeholders so the guide can also be shown before
// registration.
func (g *Generator) Render(serverName, token string) string {
	if serverName == "" {
		serverName = "<server-name>"
	}
	if token == "" {
		token = "<token issued at registration>"
	}

	return fmt.Sprintf(`Apply the three steps below on the target server to start monitoring.

---

### 1. Application settings ("application.yml")
Write logs to a file and expose the management port.

`+"```yaml"+`
logging:
  file:
    name: /app/logs/application.log

management:
  server:
    port: 9090
  endpoints:
    web:
      exposure:
        include: "health,metrics,prometheus"
  endpoint:
    health:
      show-details: always
`+"```"+`

---

### 2. Environment (".env")
Place a .env file next to your docker-compose.yml:

`+"```properties"+`
SERVER_NAME=%s
INGEST_TOKEN=%s
GATEWAY_URL=%s
FORWARDER_IMAGE=%s

# optional: webhook for alerts
WEBHOOK_URL=<your webhook url>
`+"```"+`

---

### 3. Compose ("docker-compose.yml")
Your app and the collector must share the log volume.

`+"```yaml"+`
services:
  target:
    container_name: my-app-target
    image: my-app-image:latest
    volumes:
      - logs:/app/logs
    ports:
      - "8080:8080"

  forwarder:
    image: ${FORWARDER_IMAGE}
    container_name: doctor-forwarder
    depends_on: [target]
    volumes:
      - logs:/logs:ro
    environment:
      LOG_INGEST_URL: "${GATEWAY_URL}/api/servers/${SERVER_NAME}/ingest/logs"
      METRIC_INGEST_URL: "${GATEWAY_URL}/api/servers/${SERVER_NAME}/ingest/metrics"
      INGEST_TOKEN: "${INGEST_TOKEN}"
      WEBHOOK_URL: "${WEBHOOK_URL}"
      LOG_PATH: "/logs/application.log"
      ACTUATOR_URL: "http://target:9090/actuator/metrics"
    restart: unless-stopped

volumes:
  logs:
`+"```"+`

Run "docker-compose up -d" and collection starts automatically.`,
		serverName, token, g.gatewayURL, g.forwarderImage)
}
