package device

import "fmt"

// companyNames holds Bluetooth SIG company identifiers of vendors that ship
// heart-rate wearables or commonly show up next to them.
var companyNames = map[uint16]string{
	0x0006: "Microsoft",
	0x004C: "Apple",
	0x0059: "Nordic Semiconductor",
	0x006B: "Polar",
	0x0075: "Samsung",
	0x0087: "Garmin",
	0x00E0: "Google",
	0x0157: "Huami",
	0x027D: "Huawei",
	0x038F: "Xiaomi",
}

// CompanyName returns the vendor registered for a manufacturer data company id.
func CompanyName(id uint16) (string, bool) {
	name, ok := companyNames[id]
	return name, ok
}

// DescribeCompany renders a company id as "Name (0x004C)", or the bare id when unknown.
func DescribeCompany(id uint16) string {
	if name, ok := companyNames[id]; ok {
		return fmt.Sprintf("%s (0x%04X)", name, id)
	}
	return fmt.Sprintf("0x%04X", id)
}
