// Package transports registers every built-in transport with the default
// registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/safetynet/transport/aws"
	_ "github.com/drblury/safetynet/transport/channel"
	_ "github.com/drblury/safetynet/transport/http"
	_ "github.com/drblury/safetynet/transport/io"
	_ "github.com/drblury/safetynet/transport/jetstream"
	_ "github.com/drblury/safetynet/transport/kafka"
	_ "github.com/drblury/safetynet/transport/nats"
	_ "github.com/drblury/safetynet/transport/postgres"
	_ "github.com/drblury/safetynet/transport/rabbitmq"
	_ "github.com/drblury/safetynet/transport/sqlite"
)
