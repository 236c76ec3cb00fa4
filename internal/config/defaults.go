package config

import "gymsync/internal/schema"

// Value translations applied during transformation. Source systems report
// payment types and membership categories in English; the warehouse schema
// is Dutch.
var (
	paymentTypeMap = map[string]string{
		"ONCE":            "Eenmalig",
		"PERIODIC":        "Periodiek",
		"PERIODIC_CUSTOM": "Periodiek_Aangepast",
	}
	categoryMap = map[string]string{
		"new":         "Nieuw",
		"paused":      "Gepauzeerd",
		"active":      "Actief",
		"expirations": "Verlopen",
		"expired":     "Verlopen",
	}
)

// statisticsVariants enumerates the category x payment-type grid the
// membership analytics endpoints are queried with.
func statisticsVariants() []any {
	var out []any
	for _, cat := range []string{"new", "paused", "active", "expirations"} {
		for _, pt := range []string{"ONCE", "PERIODIC", "PERIODIC_CUSTOM"} {
			out = append(out, map[string]any{"category": cat, "payment_type": pt})
		}
	}
	return out
}

// stamp is the metadata column added to every table: the moment the row was
// transformed.
func stamp() schema.FieldMapping {
	return schema.FieldMapping{Path: schema.PathNow, Column: "DatumLaatsteUpdate", Type: schema.TypeDatetime}
}

// DefaultTables returns the built-in table set. Config files override or
// extend these by name.
func DefaultTables() []schema.TableSpec {
	return []schema.TableSpec{
		{
			Name:     "Leden",
			Source:   schema.Source{Kind: schema.SourcePaginatedAPI, Endpoint: "users", PageSize: 100},
			Strategy: schema.Upsert,
			Keys:     []string{"AccountId"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "id", Column: "AccountId", Type: schema.TypeString, Required: true},
				{Path: "businessId", Column: "BedrijfId", Type: schema.TypeString},
				{Path: "primaryLocationId", Column: "PrimaireLocatieId", Type: schema.TypeString},
				{Path: "active", Column: "Actief", Type: schema.TypeBoolean},
				{Path: "paymentMethod", Column: "BetalingsVorm", Type: schema.TypeString},
				{Path: "customerNumber", Column: "KlantNummer", Type: schema.TypeString},
				{Path: "createdAt", Column: "AangemaaktOp", Type: schema.TypeDatetime},
				{Path: "updatedAt", Column: "GewijzigdOp", Type: schema.TypeDatetime},
				stamp(),
			},
		},
		{
			Name: "ActieveAbonnementen",
			Source: schema.Source{Kind: schema.SourceDerived, Options: map[string]any{
				"from":  "Leden",
				"items": "activeMemberships",
			}},
			Strategy:  schema.Replace,
			Keys:      []string{"LedenId", "AbonnementId"},
			DependsOn: []string{"Leden"},
			Enabled:   true,
			Fields: []schema.FieldMapping{
				{Path: "parent.id", Column: "LedenId", Type: schema.TypeString, Required: true},
				{Path: "item.id", Column: "AbonnementId", Type: schema.TypeString, Required: true},
				{Path: "item.name", Column: "AbonnementNaam", Type: schema.TypeString, Default: ""},
				{Path: "item.status", Column: "Status", Type: schema.TypeString, Default: "UNKNOWN"},
				stamp(),
			},
		},
		{
			Name:     "Abonnementen",
			Source:   schema.Source{Kind: schema.SourcePaginatedAPI, Endpoint: "memberships", PageSize: 100},
			Strategy: schema.Upsert,
			Keys:     []string{"AbonnementId"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "id", Column: "AbonnementId", Type: schema.TypeString, Required: true},
				{Path: "name", Column: "Naam", Type: schema.TypeString},
				{Path: "description", Column: "Beschrijving", Type: schema.TypeString},
				{Path: "type", Column: "Type", Type: schema.TypeString},
				{Path: "paymentType", Column: "BetalingsType", Type: schema.TypeString, Map: paymentTypeMap},
				{Path: "amount", Column: "Bedrag", Type: schema.TypeDecimal, NonNegative: true},
				{Path: "currency", Column: "Valuta", Type: schema.TypeString, Default: "EUR"},
				{Path: "expirationPeriod", Column: "VervalPeriode", Type: schema.TypeString},
				{Path: "activationStrategy", Column: "ActivatieStrategie", Type: schema.TypeString},
				{Path: "membershipRequired", Column: "AbonnementVereist", Type: schema.TypeBoolean},
				{Path: "consumptionMethod", Column: "ConsumptieMethode", Type: schema.TypeString},
				{Path: "autoRenewal", Column: "AutoVerlenging", Type: schema.TypeBoolean},
				{Path: "ledgerGroupId", Column: "GrootboekGroepId", Type: schema.TypeString},
				{Path: "section", Column: "Sectie", Type: schema.TypeString, Default: ""},
				stamp(),
			},
		},
		{
			Name: "Lessen",
			Source: schema.Source{Kind: schema.SourcePaginatedAPI, Endpoint: "activity-events", PageSize: 100,
				Options: map[string]any{"days_back": 8, "days_forward": 7}},
			Strategy: schema.Upsert,
			Keys:     []string{"Id"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "id", Column: "Id", Type: schema.TypeString, Required: true},
				{Path: "name", Column: "Naam", Type: schema.TypeString},
				{Path: "startAt", Column: "StartTijd", Type: schema.TypeDatetime},
				{Path: "endAt", Column: "EindTijd", Type: schema.TypeDatetime},
				{Path: "capacity", Column: "Capaciteit", Type: schema.TypeInteger, NonNegative: true},
				{Path: "memberCount", Column: "LedenAantal", Type: schema.TypeInteger, NonNegative: true},
				{Path: "trialMemberCount", Column: "ProefledenAantal", Type: schema.TypeInteger, NonNegative: true},
				{Path: "businessLocationId", Column: "BedrijfsLocatieId", Type: schema.TypeString},
				{Path: "activities", Column: "Activiteiten", Type: schema.TypeJSONArray},
				{Path: "recurring", Column: "Terugkerend", Type: schema.TypeBoolean},
				{Path: "createdAt", Column: "AangemaaktOp", Type: schema.TypeDatetime},
				{Path: "updatedAt", Column: "GewijzigdOp", Type: schema.TypeDatetime},
				{Path: "instructors", Column: "Instructeurs", Type: schema.TypeJSONArray},
				stamp(),
			},
		},
		{
			Name: "LesDeelname",
			Source: schema.Source{Kind: schema.SourcePaginatedAPI, Endpoint: "courses/{course_id}/members", PageSize: 100,
				Options: map[string]any{
					"per_parent": map[string]any{"table": "Lessen", "path": "id", "param": "course_id", "past_only": "startAt"},
				}},
			Strategy:  schema.Upsert,
			Keys:      []string{"LesId", "LedenId"},
			DependsOn: []string{"Lessen"},
			Enabled:   true,
			Fields: []schema.FieldMapping{
				{Path: "course_id", Column: "LesId", Type: schema.TypeString, Required: true},
				{Path: "user.id", Column: "LedenId", Type: schema.TypeString, Required: true},
				{Path: "status", Column: "Status", Type: schema.TypeString},
				{Path: "createdAt", Column: "AangemaaktOp", Type: schema.TypeDatetime},
				stamp(),
			},
		},
		{
			Name: "GrootboekRekening",
			Source: schema.Source{Kind: schema.SourceArrayAPI, Endpoint: "analytics/revenue",
				Options: map[string]any{"data_path": "ledgerAccounts", "days_back": 7}},
			Strategy: schema.Upsert,
			Keys:     []string{"Id"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "id", Column: "Id", Type: schema.TypeString, Required: true},
				{Path: "key", Column: "Sleutel", Type: schema.TypeString, Default: ""},
				{Path: "label", Column: "Label", Type: schema.TypeString, Default: ""},
				stamp(),
			},
		},
		{
			Name: "Omzet",
			Source: schema.Source{Kind: schema.SourceArrayAPI, Endpoint: "analytics/revenue",
				Options: map[string]any{"data_path": "dailyRevenue", "days_back": 7}},
			Strategy:  schema.MergeByKey,
			Keys:      []string{"Datum", "GrootboekRekeningId", "Type"},
			Measures:  []string{"Omzet"},
			DependsOn: []string{"GrootboekRekening"},
			Enabled:   true,
			Fields: []schema.FieldMapping{
				{Path: "date", Column: "Datum", Type: schema.TypeDate, Required: true},
				{Path: "ledgerAccountId", Column: "GrootboekRekeningId", Type: schema.TypeString, Required: true},
				{Path: "type", Column: "Type", Type: schema.TypeString, Required: true},
				{Path: "revenue", Column: "Omzet", Type: schema.TypeDecimal, NonNegative: true},
				stamp(),
			},
		},
		{
			// Not part of the daily run; request it explicitly or enable it in
			// the config file.
			Name: "AbonnementStatistieken",
			Source: schema.Source{Kind: schema.SourceArrayAPI, Endpoint: "analytics/memberships",
				Options: map[string]any{
					"reshape":   "series",
					"variants":  statisticsVariants(),
					"days_back": 30,
				}},
			Strategy: schema.MergeByKey,
			Keys:     []string{"Datum", "Categorie", "Type"},
			Measures: []string{"Aantal"},
			Enabled:  false,
			Fields: []schema.FieldMapping{
				{Path: "date", Column: "Datum", Type: schema.TypeDate, Required: true},
				{Path: "category", Column: "Categorie", Type: schema.TypeString, Required: true, Map: categoryMap},
				{Path: "payment_type", Column: "Type", Type: schema.TypeString, Required: true, Map: paymentTypeMap},
				{Path: "count", Column: "Aantal", Type: schema.TypeInteger, NonNegative: true},
				{Path: "date", Column: "DatumWeergave", Type: schema.TypeString, Format: "02-01-2006"},
				stamp(),
			},
		},
		{
			Name: "AbonnementStatistiekenSpecifiek",
			Source: schema.Source{Kind: schema.SourceArrayAPI, Endpoint: "analytics/memberships",
				Options: map[string]any{
					"reshape":    "series",
					"variants":   statisticsVariants(),
					"days_back":  1,
					"per_parent": map[string]any{"table": "Abonnementen", "path": "id", "param": "membership_id"},
				}},
			Strategy:  schema.MergeByKey,
			Keys:      []string{"Datum", "Categorie", "Type", "AbonnementId"},
			Measures:  []string{"Aantal"},
			DependsOn: []string{"Abonnementen"},
			Enabled:   true,
			Fields: []schema.FieldMapping{
				{Path: "date", Column: "Datum", Type: schema.TypeDate, Required: true},
				{Path: "category", Column: "Categorie", Type: schema.TypeString, Required: true, Map: categoryMap},
				{Path: "payment_type", Column: "Type", Type: schema.TypeString, Required: true, Map: paymentTypeMap},
				{Path: "membership_id", Column: "AbonnementId", Type: schema.TypeString, Required: true},
				{Path: "count", Column: "Aantal", Type: schema.TypeInteger, NonNegative: true},
				{Path: "date", Column: "DatumWeergave", Type: schema.TypeString, Format: "02-01-2006"},
				stamp(),
			},
		},
		{
			Name: "OpenstaandeFacturen",
			Source: schema.Source{Kind: schema.SourcePaginatedAPI, Endpoint: "invoices", PageSize: 100,
				Options: map[string]any{"params": map[string]any{"status": "PENDING"}}},
			Strategy: schema.Replace,
			Keys:     []string{"Id"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "id", Column: "Id", Type: schema.TypeString, Required: true},
				{Path: "number", Column: "Nummer", Type: schema.TypeInteger},
				{Path: "numberFormatted", Column: "NummerFormatted", Type: schema.TypeString},
				{Path: "status", Column: "Status", Type: schema.TypeString},
				{Path: "type", Column: "Type", Type: schema.TypeString},
				{Path: "year", Column: "Jaar", Type: schema.TypeInteger},
				{Path: "businessLocationId", Column: "BedrijfsLocatieId", Type: schema.TypeString},
				{Path: "totalAmount", Column: "TotaalBedrag", Type: schema.TypeDecimal, NonNegative: true},
				{Path: "createdAt", Column: "AangemaaktOp", Type: schema.TypeDatetime},
				stamp(),
			},
		},
		{
			Name:     "Uitbetalingen",
			Source:   schema.Source{Kind: schema.SourcePaginatedAPI, Endpoint: "payouts", PageSize: 100},
			Strategy: schema.Upsert,
			Keys:     []string{"UitbetalingID"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "payout.id", Column: "UitbetalingID", Type: schema.TypeString, Required: true},
				{Path: "payout.date", Column: "Datum", Type: schema.TypeDatetime},
				{Path: "payout.summary.paymentCount", Column: "Betalingen", Type: schema.TypeInteger, NonNegative: true},
				{Path: "payout.summary.chargebackCount", Column: "Chargebacks", Type: schema.TypeInteger, NonNegative: true},
				{Path: "payout.summary.refundCount", Column: "Refunds", Type: schema.TypeInteger, NonNegative: true},
				{Path: "payout.summary.totalNetAmount", Column: "NettoBedrag", Type: schema.TypeDecimal},
				{Path: "payout.summary.totalGrossAmount", Column: "BrutoBedrag", Type: schema.TypeDecimal},
				{Path: "payout.summary.totalChargebackAmount", Column: "ChargebackBedrag", Type: schema.TypeDecimal},
				{Path: "payout.summary.totalRefundAmount", Column: "RefundBedrag", Type: schema.TypeDecimal},
				{Path: "payout.summary.totalCommissionFeeAmount", Column: "CommissieBedrag", Type: schema.TypeDecimal},
				{Path: "payout.status", Column: "Status", Type: schema.TypeString, Default: ""},
				stamp(),
			},
		},
		{
			Name: "ProductVerkopen",
			Source: schema.Source{Kind: schema.SourceArrayAPI, Endpoint: "pos/statistics",
				Options: map[string]any{
					"data_path": "salesPerProduct",
					"per_day":   true,
					"days_back": 7,
				}},
			Strategy: schema.MergeByKey,
			Keys:     []string{"Datum", "ProductID"},
			Measures: []string{"Aantal"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "request_date", Column: "Datum", Type: schema.TypeDate, Required: true},
				{Path: "name", Column: "Product", Type: schema.TypeString},
				{Path: "id", Column: "ProductID", Type: schema.TypeString, Required: true},
				{Path: "sales", Column: "Aantal", Type: schema.TypeInteger, NonNegative: true},
				stamp(),
			},
		},
		{
			Name:     "PersonalTraining",
			Source:   schema.Source{Kind: schema.SourceSheet},
			Strategy: schema.Replace,
			Keys:     []string{"Id"},
			Enabled:  true,
			Fields: []schema.FieldMapping{
				{Path: "id", Column: "Id", Type: schema.TypeString, Required: true},
				{Path: "voornaam", Column: "Voornaam", Type: schema.TypeString},
				{Path: "achternaam", Column: "Achternaam", Type: schema.TypeString},
				{Path: "datum", Column: "Datum", Type: schema.TypeDate},
				{Path: "uren", Column: "Uren", Type: schema.TypeDecimal, NonNegative: true},
				stamp(),
			},
		},
	}
}
