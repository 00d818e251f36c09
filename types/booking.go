package types

// InputKind is the answer shape a booking step expects.
type InputKind string

const (
	InputText         InputKind = "text"
	InputDateRange    InputKind = "date_range"
	InputNumeric      InputKind = "numeric"
	InputSingleChoice InputKind = "single_choice"
	InputMultiChoice  InputKind = "multi_choice"
)

// SearchKind is an optional server-side search the client triggers
// before a step is exposed.
type SearchKind string

const (
	SearchFlights    SearchKind = "flights"
	SearchHotels     SearchKind = "hotels"
	SearchActivities SearchKind = "activities"
)

// BookingStep is whatever state the server returns; the actual step
// logic lives server-side.
type BookingStep struct {
	ID       string          `json:"id"`
	Prompt   string          `json:"prompt"`
	Input    InputKind       `json:"input"`
	Options  []BookingOption `json:"options,omitempty"`
	Terminal bool            `json:"terminal"`
}

type BookingOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Price int    `json:"price,omitempty"`
}

// BookingAnswer carries the user's reply for the current step. Exactly
// one field matching the step's InputKind is expected to be set.
type BookingAnswer struct {
	Text      string   `json:"text,omitempty" validate:"omitempty,min=1"`
	DateFrom  string   `json:"date_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DateTo    string   `json:"date_to,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Number    *float64 `json:"number,omitempty" validate:"omitempty,gte=0"`
	ChoiceID  string   `json:"choice_id,omitempty"`
	ChoiceIDs []string `json:"choice_ids,omitempty" validate:"omitempty,min=1"`
}

type BookingAdvance struct {
	Next   *BookingStep   `json:"next"`
	Search *BookingSearch `json:"search,omitempty"`
}

type BookingSearch struct {
	Kind   SearchKind        `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

type BookingSearchResult struct {
	Kind    SearchKind      `json:"kind"`
	Options []BookingOption `json:"options"`
}
