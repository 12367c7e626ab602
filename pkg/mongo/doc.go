// Package mongo manages MongoDB connections through go.mongodb.org/mongo-driver/v2.
//
// It is only dialled when the service is configured to keep the subscription audit trail
// in MongoDB instead of PostgreSQL.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
package mongo
