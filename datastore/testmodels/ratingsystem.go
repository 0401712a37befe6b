/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package testmodels

import "github.com/go-openapi/strfmt"

// RatingSystem lives in the shared database, independent of tenants.
type RatingSystem struct {

	// Unique identifier for the rating system.
	// Required: true
	ID string `bson:"_id" dynamodbav:"id"`

	// Name of the rating system.
	// Required: true
	Name string `bson:"name" dynamodbav:"name"`

	// A description of the rating system.
	Description string `bson:"description,omitempty" dynamodbav:"description,omitempty"`

	// site Url
	SiteURL string `bson:"siteUrl,omitempty" dynamodbav:"siteUrl,omitempty"`

	// Timestamp when the rating system was created.
	// Format: date-time
	CreatedAt strfmt.DateTime `bson:"createdAt" dynamodbav:"-"`
}
