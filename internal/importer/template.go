package importer

import (
	"bytes"
	"encoding/csv"
)

var templateHeaders = map[string][]string{
	TargetCatalog:   {"category", "item", "sub_item", "series", "image_ref"},
	TargetPurchases: {"category", "item", "sub_item", "quantity", "unit_price", "date"},
	TargetSales:     {"category", "item", "sub_item", "quantity", "unit_price", "date"},
}

var localizedHeaders = map[string][]string{
	TargetCatalog:   {"類別", "品項", "細項", "系列", "圖片"},
	TargetPurchases: {"類別", "品項", "細項", "買入數量", "買入單價", "日期"},
	TargetSales:     {"類別", "品項", "細項", "賣出數量", "賣出單價", "日期"},
}

// Template returns an empty upload sheet for target with a UTF-8 byte order
// mark, so spreadsheet programs open the Chinese headers correctly.
func Template(target string, localized bool) ([]byte, error) {
	headers := templateHeaders
	if localized {
		headers = localizedHeaders
	}
	header, ok := headers[target]
	if !ok {
		return nil, ErrUnknownTarget
	}

	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
