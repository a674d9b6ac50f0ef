package ingest

import (
	"fmt"
	"regexp"
)

// FileType names one supported CSV export kind.
type FileType string

const (
	FileCustomers  FileType = "customers"
	FileSalesLines FileType = "sales_lines"
	FileContacts   FileType = "contacts"
)

// StagingTable maps a file type to its raw-staging table name.
func (ft FileType) StagingTable() string {
	switch ft {
	case FileCustomers:
		return "raw_customers"
	case FileSalesLines:
		return "raw_sales_lines"
	case FileContacts:
		return "raw_contacts"
	}
	return ""
}

// Row-level error codes.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeDuplicateCustomer   = "DUPLICATE_CUSTOMER"
	CodeInvalidProductLabel = "INVALID_PRODUCT_LABEL"
	CodeCustomerNotFound    = "CUSTOMER_NOT_FOUND"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
)

// RowError is one rejected row. RowNumber is 1-based over data rows.
type RowError struct {
	RowNumber int
	Code      string
	Message   string
	Row       map[string]string
}

// RefSets carries the cross-batch reference data used by dependency
// checks. Nil fields disable the corresponding check.
type RefSets struct {
	CustomerCodes map[string]bool
	AliasNorms    map[string]bool
}

var postalRe = regexp.MustCompile(`^[A-Za-z0-9-]{2,20}$`)

// ValidateRows normalizes and validates rows of one file type. Valid
// rows come back normalized in place; every rejected row yields exactly
// one RowError and never aborts the batch.
func ValidateRows(ft FileType, rows []map[string]string, refs *RefSets) ([]map[string]string, []RowError) {
	switch ft {
	case FileCustomers:
		return validateCustomers(rows)
	case FileSalesLines:
		return validateSalesLines(rows, refs)
	case FileContacts:
		return validateContacts(rows, refs)
	}
	errs := make([]RowError, 0, len(rows))
	for i, row := range rows {
		errs = append(errs, RowError{
			RowNumber: i + 1, Code: CodeValidation,
			Message: fmt.Sprintf("unknown file type %q", ft), Row: row,
		})
	}
	return nil, errs
}

func validateCustomers(rows []map[string]string) ([]map[string]string, []RowError) {
	var valid []map[string]string
	var errs []RowError
	seen := map[string]bool{}

	for i, row := range rows {
		n := i + 1
		code := NormalizeText(row["customer_code"])
		if code == "" {
			errs = append(errs, RowError{n, CodeValidation, "customer_code is required", row})
			continue
		}
		if seen[code] {
			errs = append(errs, RowError{n, CodeDuplicateCustomer,
				fmt.Sprintf("customer_code %s already seen in this batch", code), row})
			continue
		}

		email, err := NormalizeEmail(row["email"])
		if err != nil {
			errs = append(errs, RowError{n, CodeValidation,
				fmt.Sprintf("invalid email %q", row["email"]), row})
			continue
		}
		postal := NormalizeText(row["postal_code"])
		if postal != "" && !postalRe.MatchString(postal) {
			errs = append(errs, RowError{n, CodeValidation,
				fmt.Sprintf("invalid postal code %q", postal), row})
			continue
		}

		row["customer_code"] = code
		row["email"] = email
		row["phone"] = NormalizePhone(row["phone"])
		row["postal_code"] = postal
		for _, f := range []string{"last_name", "first_name", "address", "city", "country"} {
			row[f] = NormalizeText(row[f])
		}
		seen[code] = true
		valid = append(valid, row)
	}
	return valid, errs
}

func validateSalesLines(rows []map[string]string, refs *RefSets) ([]map[string]string, []RowError) {
	var valid []map[string]string
	var errs []RowError

	for i, row := range rows {
		n := i + 1
		code := NormalizeText(row["customer_code"])
		docRef := NormalizeText(row["doc_ref"])
		if code == "" || docRef == "" || NormalizeText(row["order_date"]) == "" || NormalizeText(row["product_label"]) == "" {
			errs = append(errs, RowError{n, CodeValidation,
				"customer_code, order_date, doc_ref and product_label are required", row})
			continue
		}

		date, err := NormalizeDate(row["order_date"])
		if err != nil {
			errs = append(errs, RowError{n, CodeValidation,
				fmt.Sprintf("invalid order_date %q", row["order_date"]), row})
			continue
		}
		qty, err := NormalizeDecimal(row["qty"])
		if err != nil || qty <= 0 {
			errs = append(errs, RowError{n, CodeValidation,
				fmt.Sprintf("qty must be a positive number, got %q", row["qty"]), row})
			continue
		}
		amountHT, err := NormalizeDecimal(row["amount_ht"])
		if err != nil || amountHT < 0 {
			errs = append(errs, RowError{n, CodeValidation,
				fmt.Sprintf("amount_ht must be a non-negative number, got %q", row["amount_ht"]), row})
			continue
		}
		if bad := checkOptionalAmount(row, "amount_ttc"); bad != "" {
			errs = append(errs, RowError{n, CodeValidation, bad, row})
			continue
		}
		if bad := checkOptionalAmount(row, "margin"); bad != "" {
			errs = append(errs, RowError{n, CodeValidation, bad, row})
			continue
		}

		labelNorm := NormalizeLabel(row["product_label"])
		if labelNorm == "" {
			errs = append(errs, RowError{n, CodeInvalidProductLabel,
				fmt.Sprintf("product label %q normalizes to nothing", row["product_label"]), row})
			continue
		}

		if refs != nil && refs.CustomerCodes != nil && !refs.CustomerCodes[code] {
			errs = append(errs, RowError{n, CodeCustomerNotFound,
				fmt.Sprintf("customer %s not found in reference batch", code), row})
			continue
		}
		if refs != nil && refs.AliasNorms != nil && !refs.AliasNorms[labelNorm] {
			errs = append(errs, RowError{n, CodeProductNotFound,
				fmt.Sprintf("no product alias for %q", labelNorm), row})
			continue
		}

		row["customer_code"] = code
		row["doc_ref"] = docRef
		row["order_date"] = date
		row["product_label_norm"] = labelNorm
		valid = append(valid, row)
	}
	return valid, errs
}

func validateContacts(rows []map[string]string, refs *RefSets) ([]map[string]string, []RowError) {
	var valid []map[string]string
	var errs []RowError

	for i, row := range rows {
		n := i + 1
		code := NormalizeText(row["customer_code"])
		if code == "" || NormalizeText(row["contact_date"]) == "" {
			errs = append(errs, RowError{n, CodeValidation,
				"customer_code and contact_date are required", row})
			continue
		}
		date, err := NormalizeDate(row["contact_date"])
		if err != nil {
			errs = append(errs, RowError{n, CodeValidation,
				fmt.Sprintf("invalid contact_date %q", row["contact_date"]), row})
			continue
		}
		if refs != nil && refs.CustomerCodes != nil && !refs.CustomerCodes[code] {
			errs = append(errs, RowError{n, CodeCustomerNotFound,
				fmt.Sprintf("customer %s not found in reference batch", code), row})
			continue
		}

		row["customer_code"] = code
		row["contact_date"] = date
		valid = append(valid, row)
	}
	return valid, errs
}

func checkOptionalAmount(row map[string]string, field string) string {
	if NormalizeText(row[field]) == "" {
		return ""
	}
	v, err := NormalizeDecimal(row[field])
	if err != nil || v < 0 {
		return fmt.Sprintf("%s must be a non-negative number, got %q", field, row[field])
	}
	return ""
}
