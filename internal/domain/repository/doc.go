// Package repository define las interfaces de repositorio de dominio.
//
// Estas interfaces representan contratos de negocio, independientes del
// almacenamiento subyacente (PostgreSQL, memoria, etc.).
//
// Las implementaciones concretas viven en internal/store/.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│           Services (mfa, keys, policy, audit)       │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  MFAConfigRepository, KeyRepository, EventRepository│
//	└─────────────────────────────────────────────────────┘
//	                        │
//	             ┌──────────┴──────────┐
//	             ▼                     ▼
//	      ┌─────────────┐       ┌─────────────┐
//	      │  store/pg   │       │ store/memory│
//	      └─────────────┘       └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
//   - Las operaciones marcadas como atómicas DEBEN serlo en cada adapter:
//     el lockout MFA, el consumo de backup codes y la rotación de claves
//     dependen de esa garantía.
package repository
