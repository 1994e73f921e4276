package db

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"backend-cycletracker/internal/config"
)

// ConnectFirebase initialises the Admin SDK app. It returns nil when no project
// is configured. When a credentials file is set it is used as the service
// account; otherwise application-default credentials apply.
func ConnectFirebase(ctx context.Context, cfg config.Config) (*firebase.App, error) {
	if !cfg.FirebaseEnabled() {
		return nil, nil
	}
	opts := []option.ClientOption{}
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

func ConnectFirestore(ctx context.Context, app *firebase.App) (*firestore.Client, error) {
	if app == nil {
		return nil, nil
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Firestore: %w", err)
	}
	return client, nil
}
