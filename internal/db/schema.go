package db

// SchemaSQL defines the pipeline tables.
const SchemaSQL = `
    -- ==========================================================================
    -- PROCESSING CHECKPOINTS (one per source, record id = source id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS processing_checkpoint SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON processing_checkpoint TYPE string;
    DEFINE FIELD IF NOT EXISTS last_processed_index ON processing_checkpoint TYPE int DEFAULT 0;
    -- empty string when the message had no timestamp
    DEFINE FIELD IF NOT EXISTS last_processed_timestamp ON processing_checkpoint TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS total_messages_seen ON processing_checkpoint TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated_at ON processing_checkpoint TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- SCAN HISTORY
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS scan_history SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON scan_history TYPE string;
    DEFINE FIELD IF NOT EXISTS target_file ON scan_history TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS status ON scan_history TYPE string ASSERT $value IN ['running', 'completed', 'failed', 'skipped'];
    DEFINE FIELD IF NOT EXISTS start_index ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS end_index ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS messages_scanned ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS chunks_total ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS chunks_processed ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS chunks_failed ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS entities_found ON scan_history TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS message ON scan_history TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS started_at ON scan_history TYPE datetime;
    DEFINE FIELD IF NOT EXISTS finished_at ON scan_history TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS scan_history_source ON scan_history FIELDS source_id, started_at;

    -- ==========================================================================
    -- ENTITY REVIEW QUEUE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS entity_queue SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS entity_type ON entity_queue TYPE string ASSERT $value IN ['npc', 'faction', 'location', 'item', 'alias', 'stat'];
    DEFINE FIELD IF NOT EXISTS entity_name ON entity_queue TYPE string;
    -- JSON encoded candidate
    DEFINE FIELD IF NOT EXISTS entity_data ON entity_queue TYPE string;
    DEFINE FIELD IF NOT EXISTS target_file ON entity_queue TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS source_id ON entity_queue TYPE string;
    DEFINE FIELD IF NOT EXISTS source_messages ON entity_queue TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS confidence_score ON entity_queue TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS status ON entity_queue TYPE string DEFAULT 'pending' ASSERT $value IN ['pending', 'approved', 'rejected'];
    DEFINE FIELD IF NOT EXISTS created_at ON entity_queue TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS entity_queue_status ON entity_queue FIELDS status, confidence_score;
`
