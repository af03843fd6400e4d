package models

import (
	"math/big"
	"time"
)

// RawPetition is a petition as the contract returns it
type RawPetition struct {
	ID               [32]byte
	TokenID          *big.Int
	Owner            string
	MetadataURI      string
	Category         uint8
	Tags             []string
	StartDate        uint64 // unix seconds
	EndDate          uint64 // unix seconds
	SignatureCount   *big.Int
	TargetSignatures *big.Int
	CreatedAt        uint64 // unix seconds
	Status           uint8
}

// Metadata is the off-chain JSON document a petition points at
type Metadata struct {
	Title       string        `json:"name"`
	Description string        `json:"description"`
	Image       string        `json:"image"`
	RichText    string        `json:"richTextContent,omitempty"`
	Documents   []DocumentRef `json:"documents,omitempty"`
}

// DocumentRef is a supporting document attached to a petition
type DocumentRef struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploadedAt,omitempty"`
}

// Petition is the canonical, display-ready petition record.
// Values are never mutated after the normalizer builds them.
type Petition struct {
	ID               string        `json:"id"`
	TokenID          string        `json:"tokenId"`
	Owner            string        `json:"owner"`
	MetadataURI      string        `json:"metadataUri"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Image            string        `json:"image"`
	RichText         string        `json:"richTextContent,omitempty"`
	Documents        []DocumentRef `json:"documents,omitempty"`
	Category         Category      `json:"category"`
	Tags             []string      `json:"tags"`
	StartDate        time.Time     `json:"startDate"`
	EndDate          time.Time     `json:"endDate"`
	CreatedAt        time.Time     `json:"createdAt"`
	SignatureCount   string        `json:"signatureCount"`
	TargetSignatures string        `json:"targetSignatures"`
	Progress         string        `json:"progress"`
	State            State         `json:"state"`

	IsCompleted bool `json:"isCompleted"`
	IsExpired   bool `json:"isExpired"`
	HasSigned   bool `json:"hasSigned"`
	CanSign     bool `json:"canSign"`
}

// Signer is one signature recorded on a petition
type Signer struct {
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}
