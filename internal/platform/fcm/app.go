package fcm

import (
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"google.golang.org/api/option"
)

// NewMessagingClient builds the Firebase messaging client once at process
// start. credentialsJSON is the service-account blob; when empty the
// application default credentials are used. Any failure is ErrProviderInit.
func NewMessagingClient(ctx context.Context, projectID string, credentialsJSON []byte) (*messaging.Client, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		if !json.Valid(credentialsJSON) {
			return nil, fmt.Errorf("%w: credentials are not valid JSON", push.ErrProviderInit)
		}
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}

	var fbCfg *firebase.Config
	if projectID != "" {
		fbCfg = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: firebase app: %v", push.ErrProviderInit, err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: firebase messaging: %v", push.ErrProviderInit, err)
	}
	return client, nil
}
